// Package version holds the build version of the threatcore binaries.
// Set it with -ldflags '-X github.com/invisible-tech/threatcore/internal/version.Version=1.2.3'.
package version

// Version is set at build time; default for local builds.
var Version = "0.1.0"

// UserAgent returns the User-Agent value sent by the named component.
func UserAgent(component string) string {
	return component + "/" + Version
}
