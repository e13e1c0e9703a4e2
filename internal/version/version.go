// Package version holds build information injected with ldflags:
//
//	-ldflags "-X docpipeline/internal/version.version=v1.0.0 -X docpipeline/internal/version.commit=abc123 -X docpipeline/internal/version.buildTime=2026-01-01T00:00:00Z"
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

//nolint:gochecknoglobals // Required for build-time injection via ldflags.
var (
	version   string
	commit    string
	buildTime string
)

// ApplicationName is shown in the full version output.
const ApplicationName = "DocPipeline"

// Values reported when build information is missing.
const (
	DefaultVersion   = "dev"
	DefaultCommit    = "unknown"
	DefaultBuildTime = "unknown"
)

// Info is the build information of the running binary.
type Info struct {
	Version   string `json:"version"    yaml:"version"`
	Commit    string `json:"commit"     yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	Module    string `json:"module"     yaml:"module"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns the build information with defaults for unset values.
// Commit falls back to the VCS revision stamped by the Go toolchain.
func Get() Info {
	info := Info{
		Version:   withDefault(version, DefaultVersion),
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.Module = bi.Main.Path
		for _, setting := range bi.Settings {
			switch setting.Key {
			case "vcs.revision":
				info.Commit = withDefault(info.Commit, setting.Value)
			case "vcs.time":
				info.BuildTime = withDefault(info.BuildTime, setting.Value)
			}
		}
	}
	info.Commit = withDefault(info.Commit, DefaultCommit)
	info.BuildTime = withDefault(info.BuildTime, DefaultBuildTime)
	return info
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// String returns the multi-line form printed by the version command.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", ApplicationName)
	fmt.Fprintf(&b, "Version: %s\n", i.Version)
	fmt.Fprintf(&b, "Commit: %s\n", i.Commit)
	fmt.Fprintf(&b, "Built: %s\n", i.BuildTime)
	if i.Module != "" {
		fmt.Fprintf(&b, "Module: %s\n", i.Module)
	}
	fmt.Fprintf(&b, "Go: %s\n", i.GoVersion)
	return b.String()
}

// Write prints either the bare version or the full block.
func (i Info) Write(w io.Writer, short bool) error {
	if short {
		_, err := fmt.Fprintln(w, i.Version)
		return err
	}
	_, err := io.WriteString(w, i.String())
	return err
}

// IsDevelopment reports whether the binary was built without a version.
func (i Info) IsDevelopment() bool {
	return i.Version == DefaultVersion
}

// BuiltAt parses the build time. It returns the zero time when unknown or unparsable.
func (i Info) BuiltAt() time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, i.BuildTime); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SetBuildVars overrides the injected values.
func SetBuildVars(ver, com, bt string) {
	version = ver
	commit = com
	buildTime = bt
}

// ResetBuildVars clears the injected values.
func ResetBuildVars() {
	SetBuildVars("", "", "")
}
