package pagecodec

// VersionString identifies the library release.
const VersionString = "1.0.0"

// Version returns the library version.
func Version() string {
	return VersionString
}
