package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the current version of keyledger
	Version = "1.0.0"

	// SchemaVersion is the version of the key and entitlement tables
	SchemaVersion = 1
)

var (
	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version       string `json:"version"`
	SchemaVersion int    `json:"schema_version"`
	BuildTime     string `json:"build_time"`
	GitCommit     string `json:"git_commit"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Architecture  string `json:"architecture"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:       Version,
		SchemaVersion: SchemaVersion,
		BuildTime:     BuildTime,
		GitCommit:     GitCommit,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
	}
}

// GetFullVersionString returns a one-line version summary
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf("keyledger v%s (schema: v%d, built: %s, commit: %s, go: %s, os: %s/%s)",
		info.Version, info.SchemaVersion, info.BuildTime, info.GitCommit,
		info.GoVersion, info.OS, info.Architecture)
}
