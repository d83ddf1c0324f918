// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata stamped into the seektune binary at
// link time. Release builds set every field through -ldflags, for example:
//
//	go build -ldflags "-X seektune/pkg/build.buildName=seektune \
//	    -X seektune/pkg/build.buildVersion=0.3.0 ..."
//
// Development builds leave the variables empty; Initialize reports which
// one is missing and GetBuildFlags keeps returning the "dev" defaults.
package build

import "fmt"

const devValue = "dev"

type ldFlags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = defaultFlags()
)

func defaultFlags() *ldFlags {
	return &ldFlags{
		Name:        "seektune",
		Description: "Capture a few seconds of audio and ask the seektune server what is playing",
		Time:        devValue,
		Commit:      devValue,
		Version:     devValue,
	}
}

// Initialize validates and copies build information from ldflags variables
// into the buildFlags struct. It returns an error naming the first missing
// flag; in that case the development defaults stay in place.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// VersionString renders the version line printed by --version.
func (f *ldFlags) VersionString() string {
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}
