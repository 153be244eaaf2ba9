// Package buildinfo carries version metadata injected at build time via
// -ldflags "-X github.com/ZanzyTHEbar/mcp-knowledge-libsql-go/internal/buildinfo.Version=...".
package buildinfo

var (
	Version   = "dev"
	Revision  = "unknown"
	BuildDate = "unknown"
)
