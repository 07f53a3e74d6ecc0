package detect

import "strings"

// Router is the mount configuration of one routes file: a path prefix
// inserted into every route it declares, and dependency identifiers every
// handler in the file is wired to.
type Router struct {
	Prefix  string   `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Depends []string `mapstructure:"depends" json:"depends" yaml:"depends"`
}

// ApplyPrefix inserts prefix after the method token of a signature:
// ("GET /items", "/api") -> "GET /api/items". Quotes and slashes around
// the prefix are ignored. An empty prefix leaves the signature unchanged.
func ApplyPrefix(signature, prefix string) string {
	prefix = strings.Trim(strings.Trim(prefix, `"'`), "/")
	if prefix == "" {
		return signature
	}
	head, rest, _ := strings.Cut(signature, "/")
	return head + "/" + prefix + "/" + rest
}

// ApplyRouters rewrites res for the router configured for file, if any.
// Every route gets the prefix, and every route identifier gets a "calls"
// edge to each dependency.
func ApplyRouters(file string, res Result, routers map[string]Router) Result {
	rt, ok := routers[file]
	if !ok {
		return res
	}
	seen := make(map[string]bool)
	for i, r := range res.Routes {
		res.Routes[i].Signature = ApplyPrefix(r.Signature, rt.Prefix)
		if seen[r.Identifier] {
			continue
		}
		seen[r.Identifier] = true
		for _, dep := range rt.Depends {
			res.Edges = append(res.Edges, callsEdge(r.Identifier, dep, map[string]any{"via": "depends"}))
		}
	}
	return res
}
