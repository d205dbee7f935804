package version

import (
	"runtime/debug"
	"strings"
	"sync"
)

// SemVer is set at build time for releases.
//
// Example:
//
//	-ldflags "-X github.com/Oudwins/clipq/internals/version.SemVer=1.2.3"
var SemVer = "0.0.0-dev"

// BuiltAt is set at build time for releases.
var BuiltAt = ""

var (
	revisionOnce sync.Once
	revisionVal  string
)

// Version returns SemVer with the vcs revision as build metadata when the
// binary carries it, e.g. 1.2.3+a1b2c3d4e5f6 or 0.0.0-dev+a1b2c3d4e5f6.dirty.
func Version() string {
	v := strings.TrimSpace(SemVer)
	if v == "" {
		v = "0.0.0-dev"
	}
	meta := Revision()
	if meta == "" {
		return v
	}
	if strings.Contains(v, "+") {
		return v + "." + meta
	}
	return v + "+" + meta
}

// Revision is the 12 char vcs revision, suffixed with .dirty for modified
// trees. Empty when the build has no vcs metadata.
func Revision() string {
	revisionOnce.Do(func() {
		revisionVal = readRevision(debug.ReadBuildInfo)
	})
	return revisionVal
}

func readRevision(read func() (*debug.BuildInfo, bool)) string {
	info, ok := read()
	if !ok || info == nil {
		return ""
	}
	var revision string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = strings.TrimSpace(s.Value)
		case "vcs.modified":
			v := strings.ToLower(strings.TrimSpace(s.Value))
			dirty = v == "true" || v == "1"
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if dirty {
		revision += ".dirty"
	}
	return revision
}
