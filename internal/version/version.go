// ABOUTME: Product and version identifiers
// ABOUTME: Version is overridden at build time with -ldflags
package version

const (
	Product      = "talker-go"
	Manufacturer = "Talker Protocol"
)

// Version is set with -ldflags "-X github.com/Talker-Protocol/talker-go/internal/version.Version=..."
var Version = "0.1.0"

// String returns "product version"
func String() string {
	return Product + " " + Version
}
