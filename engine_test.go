package blastradius

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/blastradius/internal/detect"
	"github.com/jward/blastradius/internal/store"
)

// fixtureRepo is a small FastAPI/aiohttp/Flask service:
//
//	api/routes.py:list_users  -> services/users.py:UserService.list_all -> util/db.py:query
//	api/routes.py:create_user -> services/users.py:UserService.create   -> services/users.py:normalize
var fixtureRepo = map[string]string{
	"api/routes.py": `from fastapi import APIRouter
from services.users import UserService

router = APIRouter()
svc = UserService()


@router.get("/users")
def list_users():
    return svc.list_all()


@router.post("/users")
def create_user(payload):
    return svc.create(payload)


@router.get("/health")
def health():
    return "ok"
`,
	"services/users.py": `from util.db import query


class UserService:
    def list_all(self):
        return query("select")

    def create(self, payload):
        return normalize(payload)


def normalize(payload):
    return payload
`,
	"util/db.py": `def query(sql):
    return []
`,
	"api/aio.py": `from aiohttp import web


async def ping(request):
    return web.Response(text="pong")


app = web.Application()
app.router.add_get("/ping", ping)
`,
	"api/legacy.py": `from flask import Flask

app = Flask(__name__)


@app.route("/both", methods=["GET", "POST"])
def both():
    return "x"
`,
	"auth.py": `def current_user():
    return None
`,
	"jobs.py": `def nightly():
    return 1
`,
	"test_routes.py": `@router.get("/ignored")
def ignored():
    pass
`,
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, src := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(src), 0o644))
	}
	return root
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	e, err := New(dbPath, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

// stubDetector registers jobs.py:nightly as a scheduled task.
type stubDetector struct{}

func (stubDetector) Name() string { return "stub" }

func (stubDetector) Detect(_ context.Context, f detect.File) (detect.Result, error) {
	if f.Path != "jobs.py" {
		return detect.Result{}, nil
	}
	return detect.Result{Routes: []detect.Route{{Signature: "TASK nightly", Identifier: "jobs.py:nightly"}}}, nil
}

type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }

func (failingDetector) Detect(context.Context, detect.File) (detect.Result, error) {
	return detect.Result{}, errors.New("boom")
}

// =============================================================================
// New
// =============================================================================

func TestNew_CreatesStore(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	require.NotNil(t, e.Store())
	require.NotNil(t, e.Metrics())
	require.NotNil(t, e.Query())

	require.NoError(t, e.Store().UpsertNode("a.py:f", store.NewBody().Set(store.BodyText, "def f(): pass")))
}

func TestNew_InvalidPath(t *testing.T) {
	t.Parallel()
	_, err := New("/nonexistent/dir/db.sqlite")
	require.Error(t, err)
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := New(filepath.Join(t.TempDir(), "x"), WithBackend("mongo"))
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNew_Options(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, WithWorkers(0), WithRegistry(reg))
	assert.Equal(t, 1, e.workers)
	assert.Same(t, reg, e.Metrics().Registry)

	e = newTestEngine(t, WithParallel(false))
	assert.Equal(t, 1, e.workers)
}

func TestClose(t *testing.T) {
	t.Parallel()
	e, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

// =============================================================================
// IndexDirectory
// =============================================================================

func TestIndexDirectory_BuildsGraphAndRegistry(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e := newTestEngine(t, WithDetectors(stubDetector{}, failingDetector{}))

	report, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 7, report.Files)
	assert.Equal(t, 0, report.ParseFailures)
	assert.Equal(t, 7, report.Routes)
	assert.Equal(t, 1, report.DuplicateEndpoints, "POST /both rejected for an already registered handler")

	q := e.Query()
	callees, err := q.Callees("api/routes.py:list_users")
	require.NoError(t, err)
	assert.Equal(t, []string{"services/users.py:UserService.list_all"}, callees)

	callees, err = q.Callees("services/users.py:UserService.create")
	require.NoError(t, err)
	assert.Equal(t, []string{"services/users.py:normalize"}, callees)

	callers, err := q.Callers("util/db.py:query")
	require.NoError(t, err)
	assert.Equal(t, []string{"services/users.py:UserService.list_all"}, callers)

	groups, err := q.Endpoints()
	require.NoError(t, err)
	var sigs []string
	for _, g := range groups {
		for _, ep := range g.Endpoints {
			sigs = append(sigs, g.File+" "+ep.Signature)
		}
	}
	assert.ElementsMatch(t, []string{
		"api/aio.py GET /ping",
		"api/legacy.py GET /both",
		"api/routes.py GET /users",
		"api/routes.py POST /users",
		"api/routes.py GET /health",
		"jobs.py TASK nightly",
	}, sigs)

	node, err := q.Node("api/routes.py:list_users")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "GET /users", node.Body.String(store.BodyRoute))
	assert.Contains(t, node.Body.String(store.BodyText), `@router.get("/users")`)

	ignored, err := q.Node("test_routes.py:ignored")
	require.NoError(t, err)
	assert.Nil(t, ignored, "test files are not indexed")
}

func TestIndexDirectory_RecordsRunAndMetrics(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e := newTestEngine(t)

	report, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	runID, err := e.Store().GetMetadata(MetaRunID)
	require.NoError(t, err)
	assert.Equal(t, report.RunID, runID)

	storedRoot, err := e.Store().GetMetadata(MetaRoot)
	require.NoError(t, err)
	assert.Equal(t, report.Root, storedRoot)

	indexedAt, err := e.Store().GetMetadata(MetaIndexedAt)
	require.NoError(t, err)
	assert.NotEmpty(t, indexedAt)

	m := e.Metrics()
	assert.Equal(t, 7.0, testutil.ToFloat64(m.FilesIndexed))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RoutesDetected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicateEndpoints))
	assert.Equal(t, float64(report.Edges), testutil.ToFloat64(m.EdgesRecorded))
}

func TestIndexDirectory_ParseFailureSkipped(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, map[string]string{"ok.py": "def ok():\n    pass\n"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "bad.py"), []byte{0xff, 0xfe, 0x00}, 0o644))
	e := newTestEngine(t)

	report, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.ParseFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().ParseFailures))
}

func TestIndexDirectory_RootMustExist(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "f.py")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0o644))
	_, err = e.IndexDirectory(context.Background(), file)
	require.Error(t, err)
}

func TestIndexDirectory_Routers(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e := newTestEngine(t, WithRouters(map[string]Router{
		"api/routes.py": {Prefix: "/v1", Depends: []string{"auth.py:current_user"}},
	}))

	_, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	ep, err := e.Query().Endpoint("api/routes.py:list_users")
	require.NoError(t, err)
	assert.Equal(t, "GET /v1/users", ep.Signature)

	callers, err := e.Query().Callers("auth.py:current_user")
	require.NoError(t, err)
	assert.Equal(t, []string{"api/routes.py:create_user", "api/routes.py:health", "api/routes.py:list_users"}, callers)
}

func TestIndexDirectory_ScriptsFS(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, map[string]string{"jobs.py": "def nightly():\n    return 1\n"})
	fsys := fstest.MapFS{"detect/cron.risor": {Data: []byte(`emit_route("CRON 0 3 * * *", "nightly")`)}}
	e := newTestEngine(t, WithScriptsFS(fsys))

	report, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Routes)

	ep, err := e.Query().Endpoint("jobs.py:nightly")
	require.NoError(t, err)
	assert.Equal(t, "CRON 0 3 * * *", ep.Signature)
}

// =============================================================================
// MapDiff and BlastRadius
// =============================================================================

const queryDiff = `diff --git a/util/db.py b/util/db.py
--- a/util/db.py
+++ b/util/db.py
@@ -1,2 +1,2 @@
 def query(sql):
-    return []
+    return [sql]
`

func TestBlastRadius_EndToEnd(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e := newTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	changed, err := e.MapDiff(context.Background(), queryDiff, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"util/db.py:query"}, changed)

	res, err := e.BlastRadius(context.Background(), changed)
	require.NoError(t, err)
	assert.Equal(t, Impact{"api/routes.py": {{EntryPoint: "GET /users", Identifier: "api/routes.py:list_users"}}}, res)
}

func TestBlastRadiusForDiff_HelperChange(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e := newTestEngine(t)
	_, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)

	res, err := e.BlastRadiusForDiff(context.Background(), "+++ b/services/users.py\n@@ -13 +13 @@\n", root)
	require.NoError(t, err)
	assert.Equal(t, Impact{"api/routes.py": {{EntryPoint: "POST /users", Identifier: "api/routes.py:create_user"}}}, res)
}

func TestBlastRadius_EmptyInput(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	res, err := e.BlastRadius(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestMapDiff_RootFromMetadata(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	dbPath := filepath.Join(t.TempDir(), "test.db")

	e, err := New(dbPath)
	require.NoError(t, err)
	_, err = e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened, err := New(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	changed, err := reopened.MapDiff(context.Background(), queryDiff, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"util/db.py:query"}, changed)
}

func TestMapDiff_NoRoot(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	_, err := e.MapDiff(context.Background(), queryDiff, "")
	require.Error(t, err)
}

func TestBadgerBackend_EndToEnd(t *testing.T) {
	t.Parallel()
	root := writeRepo(t, fixtureRepo)
	e, err := New(filepath.Join(t.TempDir(), "kv"), WithBackend(BackendBadger))
	require.NoError(t, err)
	defer e.Close()

	report, err := e.IndexDirectory(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicateEndpoints)

	res, err := e.BlastRadiusForDiff(context.Background(), queryDiff, "")
	require.NoError(t, err)
	assert.Equal(t, Impact{"api/routes.py": {{EntryPoint: "GET /users", Identifier: "api/routes.py:list_users"}}}, res)
}
