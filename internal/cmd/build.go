package cmd

import (
	"fmt"
	goruntime "runtime"
	"runtime/debug"

	"github.com/dotcommander/gizmo/internal/storage"
)

// BuildInfo is injected by the build pipeline.
type BuildInfo struct {
	Version   string
	CommitSHA string
}

func versionTemplate(b BuildInfo) string {
	v := "{{.Name}} {{.Version}}"
	if b.CommitSHA != "" {
		v += " (" + storage.ShortID(b.CommitSHA) + ")"
	}
	return v + fmt.Sprintf(" %s %s/%s\n", goruntime.Version(), goruntime.GOOS, goruntime.GOARCH)
}

// normalizeBuildInfo fills what the linker flags left empty from the VCS
// stamp of the binary.
func normalizeBuildInfo(b BuildInfo) BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		if b.Version == "" {
			b.Version = "unknown"
		}
		return b
	}
	if b.Version == "" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}

	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if b.CommitSHA == "" {
		b.CommitSHA = rev
	}
	if b.Version == "" {
		b.Version = "dev"
		if rev != "" {
			b.Version += "-" + storage.ShortID(rev)
		}
		if dirty {
			b.Version += "-dirty"
		}
	}
	return b
}
