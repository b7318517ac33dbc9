package p2p

import "github.com/Masterminds/semver/v3"

const (
	narwhalProtocolPrefix = "koinos/narwhal/"
	versionMajor          = 1
	versionMinor          = 0
	versionPatch          = 0
	versionPrerelease     = ""
	versionMetadata       = ""
)

var (
	narwhalProtocolVersion *semver.Version
)

func NarwhalProtocolVersion() *semver.Version {
	if narwhalProtocolVersion == nil {
		narwhalProtocolVersion = semver.New(versionMajor, versionMinor, versionPatch, versionPrerelease, versionMetadata)
	}

	return narwhalProtocolVersion
}

func NarwhalProtocolVersionString() string {
	return narwhalProtocolPrefix + NarwhalProtocolVersion().String()
}

// ParseProtocolVersion parses a peer's protocol version string
func ParseProtocolVersion(versionString string) (*semver.Version, bool) {
	if len(versionString) <= len(narwhalProtocolPrefix) || versionString[:len(narwhalProtocolPrefix)] != narwhalProtocolPrefix {
		return nil, false
	}

	version, err := semver.NewVersion(versionString[len(narwhalProtocolPrefix):])
	if err != nil {
		return nil, false
	}

	return version, true
}

// IsCompatibleVersion returns true if a peer speaking version can serve transmissions to us
func IsCompatibleVersion(version *semver.Version) bool {
	return version.Major() == NarwhalProtocolVersion().Major()
}
