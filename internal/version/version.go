// Package version holds build-time identifiers injected via -ldflags.
package version

// Version and Commit default to "dev"/"none" for local builds; release
// builds set them with -ldflags "-X .../internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)
