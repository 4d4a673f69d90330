// Package version reports the build identity of the s3sync binary. Release
// builds set the variables below with -ldflags; anything left at its
// default is read from the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const (
	devVersion  = "0.1.0-dev"
	devRevision = "HEAD"

	// revisionLength is how much of a commit hash is printed.
	revisionLength = 12
)

var (
	AppName   = "s3sync"
	Version   = devVersion
	Revision  = devRevision
	BuildDate = ""
)

// Info is a snapshot of the build identity.
type Info struct {
	App       string
	Version   string
	Revision  string
	BuildDate string
	GoVersion string
	Platform  string
}

func Get() Info {
	return Info{
		App:       AppName,
		Version:   Version,
		Revision:  Revision,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

func (i Info) Short() string {
	return fmt.Sprintf("%s (%s)", i.Version, i.Revision)
}

func (i Info) Detailed() string {
	return fmt.Sprintf("%s (%s; %s; %s; %s)", i.Version, i.Revision, i.GoVersion, i.Platform, i.BuildDate)
}

// Short returns `0.1.0 (5e23a4b1c0d2)`.
func Short() string {
	return Get().Short()
}

func ShortWithApp() string {
	return AppName + " " + Short()
}

func Detailed() string {
	return Get().Detailed()
}

func DetailedWithApp() string {
	return AppName + " " + Detailed()
}

// stamp copies the module version and VCS settings of info into the
// variables ldflags did not set.
func stamp(info *debug.BuildInfo) {
	if info == nil {
		return
	}
	vcs := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		if strings.HasPrefix(s.Key, "vcs.") {
			vcs[strings.TrimPrefix(s.Key, "vcs.")] = s.Value
		}
	}

	if Version == devVersion || Version == "" {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			Version = strings.TrimPrefix(v, "v")
		}
	}
	if Revision == devRevision || Revision == "" {
		if r := vcs["revision"]; r != "" {
			if len(r) > revisionLength {
				r = r[:revisionLength]
			}
			if vcs["modified"] == "true" {
				r += "-dirty"
			}
			Revision = r
		}
	}
	if BuildDate == "" {
		BuildDate = vcs["time"]
	}
}

func init() {
	info, _ := debug.ReadBuildInfo()
	stamp(info)
	if BuildDate == "" {
		BuildDate = time.Now().UTC().Format(time.RFC3339)
	}
}
