// Package version carries build metadata injected with -ldflags.
package version

import (
	"strconv"
	"strings"
)

var Version = "dev"
var Major = "0"
var Minor = "0"
var Patch = "0"
var Built = ""
var GitCommit = ""

type VersionInfo struct {
	Version   string `json:"version"`
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	Built     string `json:"built,omitempty"`
	GitCommit string `json:"git_commit,omitempty"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		Major:     parseInt(Major),
		Minor:     parseInt(Minor),
		Patch:     parseInt(Patch),
		Built:     Built,
		GitCommit: GitCommit,
	}
}

// String renders the info as printed by "watchflow version".
func (info VersionInfo) String() string {
	var builder strings.Builder
	builder.WriteString("watchflow ")
	builder.WriteString(info.Version)
	var details []string
	if info.GitCommit != "" {
		details = append(details, "commit "+info.GitCommit)
	}
	if info.Built != "" {
		details = append(details, "built "+info.Built)
	}
	if len(details) > 0 {
		builder.WriteString(" (")
		builder.WriteString(strings.Join(details, ", "))
		builder.WriteString(")")
	}
	return builder.String()
}

func parseInt(value string) int {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return parsed
}
