// Package scripts holds the detector scripts shipped with blastradius.
package scripts

import "embed"

// FS contains detect/*.risor. Pass it to runtime.WithRuntimeFS.
//
//go:embed detect/*.risor
var FS embed.FS
