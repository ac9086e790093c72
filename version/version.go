package version

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// will be replaced with the release version when using goreleaser
var version = "development"

// ProvisioningVersion returns the version of the provisioning tools
func ProvisioningVersion() string {
	return version
}

// FourPart normalises a product version like "1.4.2" to the dotted quad
// "1.4.2.0" that Windows version resources require.
func FourPart(v string) (string, error) {
	parsed, err := goversion.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return "", fmt.Errorf("invalid product version %q: %w", v, err)
	}

	segments := parsed.Segments()
	if len(segments) > 4 {
		return "", fmt.Errorf("invalid product version %q: more than four segments", v)
	}
	for len(segments) < 4 {
		segments = append(segments, 0)
	}
	for _, s := range segments {
		if s > 65535 {
			return "", fmt.Errorf("invalid product version %q: segment %d exceeds 65535", v, s)
		}
	}

	return fmt.Sprintf("%d.%d.%d.%d", segments[0], segments[1], segments[2], segments[3]), nil
}
