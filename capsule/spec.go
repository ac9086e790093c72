package capsule

import (
	"strings"
	"unicode"

	"github.com/cloudydesk/provisioning/shared/status"
)

// MinLicenseKeyLength is the shortest entitlement key accepted anywhere in the pipeline
const MinLicenseKeyLength = 10

const namePrefix = "cloudydesk-agent-"

// ClientSpec is the operator supplied identity and entitlement for one
// client. A capsule is bound to exactly one ClientSpec.
type ClientSpec struct {
	AgentID       string `json:"agentId"`
	LicenseKey    string `json:"licenseKey"`
	WithShortcuts bool   `json:"withShortcuts"`
}

// Validate rejects specs that would produce an unusable or ambiguous capsule
func (s ClientSpec) Validate() error {
	id := strings.TrimSpace(s.AgentID)
	if id == "" {
		return status.NewInvalidSpecError("agent id is empty")
	}
	if id != s.AgentID {
		return status.NewInvalidSpecError("agent id %q has surrounding whitespace", s.AgentID)
	}
	if hasControl(s.AgentID) {
		return status.NewInvalidSpecError("agent id contains control characters")
	}
	if SafeName(s.AgentID) == "" {
		return status.NewInvalidSpecError("agent id %q has no usable characters", s.AgentID)
	}

	key := strings.TrimSpace(s.LicenseKey)
	if len(key) < MinLicenseKeyLength {
		return status.NewInvalidSpecError("license key must be at least %d characters", MinLicenseKeyLength)
	}
	if key != s.LicenseKey || hasControl(s.LicenseKey) || strings.ContainsAny(s.LicenseKey, `"`) {
		return status.NewInvalidSpecError("license key contains invalid characters")
	}
	return nil
}

// InstallOptions is the positional option list the product installer accepts
func (s ClientSpec) InstallOptions() string {
	if s.WithShortcuts {
		return "autostart desktopicon startmenu"
	}
	return "autostart"
}

func hasControl(v string) bool {
	return strings.IndexFunc(v, unicode.IsControl) >= 0
}

// SafeName normalises an agent id for use in file names: lowercase, with
// spaces, underscores and any other character outside [a-z0-9.-] turned into
// a hyphen.
func SafeName(agentID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(agentID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), ".-")
}

// Names holds every file name produced while generating one capsule. They
// all share the client's safe name, so concurrent generations for different
// clients never collide.
type Names struct {
	Base     string
	Script   string
	Manifest string
	Payload  string
	Output   string
}

// NamesFor derives the capsule file names for agentID
func NamesFor(agentID string) Names {
	base := namePrefix + SafeName(agentID)
	return Names{
		Base:     base,
		Script:   base + ".nsi",
		Manifest: base + ".json",
		Payload:  base + "-payload.zip",
		Output:   base + "-setup.exe",
	}
}
