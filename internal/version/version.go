// Package version provides build-time version information for
// transcribebridge.
//
// Version, Commit, and Date are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/transcribebridge/transcribebridge/internal/version.Version=x.y.z \
//	                   -X github.com/transcribebridge/transcribebridge/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/transcribebridge/transcribebridge/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	// Release format: "1.2.3"
	// Prerelease format: "1.2.3-SNAPSHOT.abc1234" (next patch + SNAPSHOT + short SHA)
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the build was made from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty" depending on uncommitted changes.
	TreeState = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "transcribebridge"

// Info contains structured version information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	CommitSHA string `json:"commit_sha"`
	Date      string `json:"date"`
	Branch    string `json:"branch"`
	TreeState string `json:"tree_state"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Platform  string `json:"platform"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortCommit(),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// shortCommit returns the first 8 characters of the commit SHA, with a
// "*" suffix when the tree was dirty at build time.
func shortCommit() string {
	if Commit == "unknown" || len(Commit) < 8 {
		return Commit
	}
	short := Commit[:8]
	if TreeState == "dirty" {
		short += "*"
	}
	return short
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	if Commit != "unknown" && len(Commit) >= 8 {
		parts := []string{
			fmt.Sprintf("commit: %s", shortCommit()),
			fmt.Sprintf("built: %s", info.Date),
		}
		if Branch != "unknown" && Branch != "" {
			parts = append(parts, fmt.Sprintf("branch: %s", Branch))
		}
		parts = append(parts, info.GoVersion, info.Platform)
		return fmt.Sprintf("%s version %s (%s)", ApplicationName, info.Version, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, info.Platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s (%s)", Version, shortCommit())
	}
	return Version
}

// JSON returns version information as a JSON string.
func JSON() string {
	data, err := json.MarshalIndent(GetInfo(), "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"version":%q}`, Version)
	}
	return string(data)
}

// UserAgent returns a User-Agent string for HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("%s/%s", ApplicationName, Version)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
// Snapshots use SemVer prerelease format: X.Y.Z-SNAPSHOT.commitsha
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease returns true if this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot() && Version != "dev"
}
