package main

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X main.buildVersion=... -X main.buildCommit=...".
var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

// buildInfo identifies the running binary.
type buildInfo struct {
	Version   string
	Commit    string
	Modified  bool // built from a dirty checkout
	GoVersion string
}

// currentBuild prefers values injected at link time and falls back to the
// VCS stamp `go build` embeds when run inside a checkout.
func currentBuild() buildInfo {
	b := buildInfo{
		Version:   strings.TrimSpace(buildVersion),
		Commit:    strings.TrimSpace(buildCommit),
		GoVersion: runtime.Version(),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withSettings(info.Settings)
	}
	return b
}

func (b buildInfo) withSettings(settings []debug.BuildSetting) buildInfo {
	if b.Commit != "" && b.Commit != "unknown" {
		return b
	}
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			b.Commit = s.Value
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// String is the release tag for tagged builds and dev-<sha> otherwise.
func (b buildInfo) String() string {
	if b.Version != "" && b.Version != "dev" {
		return b.Version
	}
	sha := b.Commit
	if sha == "unknown" {
		sha = ""
	}
	if len(sha) > 7 {
		sha = sha[:7]
	}
	switch {
	case sha == "":
		return "dev"
	case b.Modified:
		return "dev-" + sha + "-dirty"
	default:
		return "dev-" + sha
	}
}

// versionTemplate is used by --version.
func versionTemplate() string {
	b := currentBuild()
	return fmt.Sprintf("storeferry %s (%s)\n", b, b.GoVersion)
}
