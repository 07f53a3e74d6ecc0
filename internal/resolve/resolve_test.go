package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/blastradius/internal/syntax"
)

// newTestResolver indexes the given rel -> source map in memory.
func newTestResolver(t *testing.T, files map[string]string) *Resolver {
	t.Helper()
	ix := syntax.NewIndex("/repo")
	for rel, src := range files {
		tbl, err := syntax.IndexSource(context.Background(), rel, []byte(src))
		require.NoError(t, err)
		ix.Add(tbl)
	}
	return New(ix)
}

func TestResolve_RelativeImportThroughInstance(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"pkg/sub/a.py": "from ..util import Helper\n\nh = Helper()\n\ndef go():\n    h.run()\n",
		"pkg/util.py":  "class Helper:\n    def run(self):\n        pass\n",
	})

	got, ok := r.Resolve("h.run", "pkg/sub/a.py")
	require.True(t, ok)
	assert.Equal(t, "pkg/util.py", got.File)
	assert.Equal(t, "Helper.run", got.Name)
	assert.Equal(t, "pkg/util.py:Helper.run", got.Identifier())
}

func TestResolve_RelativeImportPackageDir(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"pkg/sub/a.py":          "from ..util import Helper\nh = Helper()\n",
		"pkg/util/__init__.py":  "",
		"pkg/util/helpers.py":   "class Helper:\n    pass\n",
		"other/util/helpers.py": "class Helper:\n    pass\n",
	})

	got, ok := r.Resolve("h.run", "pkg/sub/a.py")
	require.True(t, ok)
	assert.Equal(t, "pkg/util/helpers.py", got.File)
	assert.Equal(t, "Helper", got.Name, "falls back to the class when the method is not declared")
}

func TestResolve_SingleDotIsOwnPackage(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"app/views.py":    "from .services import create_user\n",
		"app/services.py": "def create_user():\n    pass\n",
	})

	got, ok := r.Resolve("create_user", "app/views.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "app/services.py", Name: "create_user"}, got)
}

func TestResolve_FromImportSubmodule(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"project/urls.py": "from app import views\n",
		"app/views.py":    "def index(request):\n    pass\n",
		"app/__init__.py": "",
	})

	got, ok := r.Resolve("views.index", "project/urls.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "app/views.py", Name: "index"}, got)
}

func TestResolve_AliasedModuleImport(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"main.py":       "import app.models as m\n",
		"app/models.py": "class User:\n    def save(self):\n        pass\n",
	})

	got, ok := r.Resolve("m.User.save", "main.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "app/models.py", Name: "User.save"}, got)
}

func TestResolve_DottedModuleImport(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"main.py":      "import lib.text\n",
		"lib/text.py":  "def slug(s):\n    pass\n",
		"lib/other.py": "def slug(s):\n    pass\n",
	})

	got, ok := r.Resolve("lib.text.slug", "main.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "lib/text.py", Name: "slug"}, got)
}

func TestResolve_InstanceOfLocalClass(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"a.py": "class Repo:\n    def get(self):\n        pass\n\nrepo = Repo()\n",
	})

	got, ok := r.Resolve("repo.get", "a.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "a.py", Name: "Repo.get"}, got)
}

func TestResolve_LocalFallback(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"a.py": "def helper():\n    pass\n\ndef main():\n    helper()\n",
	})

	got, ok := r.Resolve("helper", "a.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "a.py", Name: "helper"}, got)
}

func TestResolve_Unresolved(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"a.py":      "import os\nfrom .missing import thing\n",
		"posts.py":  "def join():\n    pass\n",
		"b/join.py": "",
	})

	tests := []string{"print", "os.path.join", "thing", "thing.run", ""}
	for _, name := range tests {
		_, ok := r.Resolve(name, "a.py")
		assert.False(t, ok, name)
	}

	_, ok := r.Resolve("helper", "not-indexed.py")
	assert.False(t, ok)
}

func TestResolve_FirstMatchWins(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"main.py":         "from core import make\n",
		"b/core/build.py": "def make():\n    pass\n",
		"a/core/build.py": "def make():\n    pass\n",
	})

	got, ok := r.Resolve("make", "main.py")
	require.True(t, ok)
	assert.Equal(t, "a/core/build.py", got.File)
}

func TestModuleFragment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		module   string
		relative bool
		from     string
		want     string
	}{
		{"app.models", false, "x.py", "app/models"},
		{".", true, "app/views.py", "app"},
		{".db", true, "app/views.py", "app/db"},
		{"..util", true, "pkg/sub/a.py", "pkg/util"},
		{"..", true, "pkg/sub/a.py", "pkg"},
		{".x", true, "main.py", "x"},
		{"...", true, "a/b.py", ""},
	}
	for _, tt := range tests {
		got := moduleFragment(syntax.Import{Module: tt.module, Relative: tt.relative}, tt.from)
		assert.Equal(t, tt.want, got, "%s from %s", tt.module, tt.from)
	}
}

func TestResolve_IrregularLayout(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"app/views.py":         `from core.models import Order

def show():
    Order.load()
`,
		"src/mycore/models.py": `class Order:
    def load(self):
        pass
`,
	})

	got, ok := r.Resolve("Order.load", "app/views.py")
	require.True(t, ok)
	assert.Equal(t, Target{File: "src/mycore/models.py", Name: "Order.load"}, got)
}

func TestFilesMatching_Substring(t *testing.T) {
	t.Parallel()
	r := newTestResolver(t, map[string]string{
		"pkg/util.py":       "",
		"pkg/utils.py":      "",
		"mypkg/util.py":     "",
		"src/pkg/util/x.py": "",
		"other.py":          "",
	})

	got := r.filesMatching("pkg/util")
	assert.Equal(t, []string{"mypkg/util.py", "pkg/util.py", "pkg/utils.py", "src/pkg/util/x.py"}, got)
	assert.Empty(t, r.filesMatching("nothing"))
}
