package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Значения подставляются при сборке через
// -ldflags "-X github.com/vladislavdragonenkov/marketplace-offers/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает сборку offer-service.
type Build struct {
	Version string
	Commit  string
	Date    string
	// Modified выставляется, если бинарник собран из грязного дерева.
	Modified bool
}

func (b Build) String() string {
	commit := b.Commit
	if b.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, commit, b.Date)
}

var (
	once    sync.Once
	current Build
)

// Current возвращает сведения о сборке. Если ldflags не заданы,
// commit и date берутся из VCS-меток go build.
func Current() Build {
	once.Do(func() {
		current = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return current
}

func resolve(v, c, d string, readInfo func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d}
	info, ok := readInfo()
	if !ok || info == nil {
		return b
	}

	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = setting.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = setting.Value
			}
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		}
	}
	return b
}

// GetVersion возвращает версию сборки offer-service.
func GetVersion() string { return Current().Version }

func GetCommit() string { return Current().Commit }

func GetDate() string { return Current().Date }

func String() string { return Current().String() }
