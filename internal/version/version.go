// Package version reports build information set through ldflags.
package version

import "runtime/debug"

// Set at build time via -ldflags "-X github.com/alvmarrod/web-surveyor/internal/version.Version=..."
var (
	Version = ""
	Commit  = ""
	Date    = ""
)

// Get returns the version. Priority: ldflags > build info > "(devel)"
func Get() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// GetCommit returns the short commit hash or "unknown"
func GetCommit() string {
	if Commit != "" {
		return Commit
	}
	if rev := buildSetting("vcs.revision"); rev != "" {
		if len(rev) > 7 {
			return rev[:7]
		}
		return rev
	}
	return "unknown"
}

// GetDate returns the build date or "unknown"
func GetDate() string {
	if Date != "" {
		return Date
	}
	if t := buildSetting("vcs.time"); t != "" {
		return t
	}
	return "unknown"
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
