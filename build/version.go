package build

import "os"

var CurrentCommit string
var BuildType int

const (
	BuildDefault = 0
	BuildDebug   = 0x3
)

func buildType() string {
	switch BuildType {
	case BuildDefault:
		return ""
	case BuildDebug:
		return "+debug"
	default:
		return "+huh?"
	}
}

// BuildVersion is the local build version
const BuildVersion = "0.3.0"

func UserVersion() string {
	if os.Getenv("URSA_VERSION_IGNORE_COMMIT") == "1" {
		return BuildVersion
	}

	return BuildVersion + buildType() + CurrentCommit
}

// UserAgent is advertised over identify.
func UserAgent() string {
	return "ursa-" + UserVersion()
}
