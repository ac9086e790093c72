package capsule

import (
	"fmt"
	"strings"
	"time"
)

const (
	// IdentityFileName holds the client identity and registration flags
	IdentityFileName = "cloudydesk.conf"
	// OverrideFileName holds the entitlement key. Its value wins over any
	// command line argument or build-time default.
	OverrideFileName = "license_override.conf"

	OverrideKey = "LicenseKey"
)

const overrideTimeLayout = "2006-01-02 15:04:05"

// RenderIdentity returns the identity file content for agentID
func RenderIdentity(agentID string) []byte {
	var b strings.Builder
	b.WriteString("[Agent]\n")
	fmt.Fprintf(&b, "AgentID=%s\n", agentID)
	b.WriteString("AutoRegister=true\n")
	b.WriteString("AutoConnect=true\n")
	return []byte(b.String())
}

// RenderOverride returns the override file written by a capsule at install time
func RenderOverride(agentID, licenseKey string, generated time.Time) []byte {
	var b strings.Builder
	b.WriteString("# CloudyDesk License Configuration\n")
	fmt.Fprintf(&b, "# Agent ID: %s\n", agentID)
	fmt.Fprintf(&b, "# Generated: %s\n", generated.Format(overrideTimeLayout))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s=%s\n", OverrideKey, licenseKey)
	return []byte(b.String())
}

// RenderOverrideUpdate returns the override file written when the entitlement
// is changed after installation
func RenderOverrideUpdate(licenseKey string, updated time.Time) []byte {
	var b strings.Builder
	b.WriteString("# CloudyDesk License Override Configuration\n")
	b.WriteString("# This file allows updating the license key without rebuilding\n")
	fmt.Fprintf(&b, "# Last updated: %s\n", updated.Format(overrideTimeLayout))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s=%s\n", OverrideKey, licenseKey)
	return []byte(b.String())
}
