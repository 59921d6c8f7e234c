// Package buildinfo carries version identity shared by the CLI and the
// helper RPC handshake.
package buildinfo

import (
	goversion "github.com/hashicorp/go-version"
)

// Set via ldflags at build time.
var (
	Version   = "1.0.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// Compatible reports whether a helper reporting helperVersion can serve
// an application expecting wantVersion. Same major version is required;
// an unparseable version is never compatible.
func Compatible(wantVersion, helperVersion string) bool {
	want, err := goversion.NewVersion(wantVersion)
	if err != nil {
		return false
	}
	got, err := goversion.NewVersion(helperVersion)
	if err != nil {
		return false
	}
	return want.Segments()[0] == got.Segments()[0]
}
