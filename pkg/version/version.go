// Package version reports the version of abicheck.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

// Version represents the version of abicheck.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// Current is the version of this build.
var Current = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

func (v Version) String() string {
	fixBuild(&v, debug.ReadBuildInfo)
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return fmt.Sprintf("%s\nBuild: %s", ver, v.Build)
}

// BuildInfo returns the Go version and module dependencies of the binary.
func BuildInfo() string {
	return fmt.Sprintf("%s\n%s", runtime.Version(), moduleBuildInfo(debug.ReadBuildInfo))
}

func fixBuild(v *Version, read func() (*debug.BuildInfo, bool)) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := read()
	if !ok {
		return
	}

	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.Build = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if modified && !strings.HasPrefix(v.Build, "$Id$") {
		v.Build += "-dirty"
	}
}
