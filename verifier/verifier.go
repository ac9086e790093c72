package verifier

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	KeyAgentID    = "agent-id"
	KeyLicenseKey = "license-key"
	KeyAPIServer  = "api-server"

	// TailLines is how many of the most recent log lines are inspected
	TailLines = 20

	maxLineLen = 64 * 1024

	successMarker  = "registered successfully"
	identityMarker = "agent"
	installMarker  = "install_me"
)

// RequiredKeys are the host configuration keys a provisioned agent needs
var RequiredKeys = []string{KeyAgentID, KeyLicenseKey, KeyAPIServer}

// Report is the outcome of one verification. It is computed fresh on every
// call and never stored.
type Report struct {
	ConfigPath  string
	ConfigFound bool
	Keys        map[string]bool
	values      map[string]string

	LogPath         string
	LogFound        bool
	SuccessObserved bool
	IdentityLogged  bool
	InstallLogged   bool
	// Tail holds the inspected log lines, oldest first
	Tail []string
}

// Missing lists required keys absent from the host configuration
func (r Report) Missing() []string {
	var missing []string
	for _, k := range RequiredKeys {
		if !r.Keys[k] {
			missing = append(missing, k)
		}
	}
	return missing
}

// OK reports whether every required key is present and the success marker was seen
func (r Report) OK() bool {
	return len(r.Missing()) == 0 && r.SuccessObserved
}

// Value returns a configuration value found during verification
func (r Report) Value(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "config %s: ", r.ConfigPath)
	if !r.ConfigFound {
		b.WriteString("not found")
	} else if m := r.Missing(); len(m) > 0 {
		fmt.Fprintf(&b, "missing %s", strings.Join(m, ", "))
	} else {
		b.WriteString("all keys present")
	}
	fmt.Fprintf(&b, "; log %s: ", r.LogPath)
	if !r.LogFound {
		b.WriteString("not found")
	} else {
		fmt.Fprintf(&b, "registered=%t agent=%t install_me=%t", r.SuccessObserved, r.IdentityLogged, r.InstallLogged)
	}
	return b.String()
}

// Verify inspects the host configuration and the tail of the install log.
// Missing files are reported, not returned as errors; only unreadable files
// fail the call. It never modifies either file.
func Verify(configPath, logPath string) (Report, error) {
	r := Report{
		ConfigPath: configPath,
		LogPath:    logPath,
		Keys:       make(map[string]bool, len(RequiredKeys)),
		values:     make(map[string]string, len(RequiredKeys)),
	}
	for _, k := range RequiredKeys {
		r.Keys[k] = false
	}

	values, found, err := readConfig(configPath)
	if err != nil {
		return r, fmt.Errorf("read host config: %w", err)
	}
	r.ConfigFound = found
	for _, k := range RequiredKeys {
		if v, ok := values[k]; ok && v != "" {
			r.Keys[k] = true
			r.values[k] = v
		}
	}

	tail, found, err := tailLines(logPath, TailLines)
	if err != nil {
		return r, fmt.Errorf("read install log: %w", err)
	}
	r.LogFound = found
	r.Tail = tail
	for _, line := range tail {
		l := strings.ToLower(line)
		if strings.Contains(l, successMarker) {
			r.SuccessObserved = true
		}
		if strings.Contains(l, identityMarker) {
			r.IdentityLogged = true
		}
		if strings.Contains(l, installMarker) {
			r.InstallLogged = true
		}
	}

	return r, nil
}

// readConfig returns string values of the top level and the [options] table.
// Files that are not valid TOML fall back to a key = value line scan.
func readConfig(path string) (map[string]string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, false, nil
		}
		return nil, false, err
	}

	var doc map[string]interface{}
	if _, err := toml.Decode(string(data), &doc); err != nil {
		log.Debugf("host config %s is not valid TOML, scanning lines: %v", path, err)
		return scanConfig(string(data)), true, nil
	}

	values := make(map[string]string)
	collect := func(m map[string]interface{}) {
		for k, v := range m {
			if s, ok := v.(string); ok {
				values[k] = s
			}
		}
	}
	collect(doc)
	if opts, ok := doc["options"].(map[string]interface{}); ok {
		collect(opts)
	}
	return values, true, nil
}

func scanConfig(content string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.Trim(strings.TrimSpace(k), `'"`)
		v = strings.Trim(strings.TrimSpace(v), `'"`)
		if _, seen := values[k]; !seen {
			values[k] = v
		}
	}
	return values
}

// tailLines returns the last n lines of path. Lines longer than maxLineLen
// are truncated to their first maxLineLen bytes.
func tailLines(path string, n int) ([]string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	push := func(line []byte) {
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, strings.TrimRight(string(line), "\r"))
	}

	reader := bufio.NewReaderSize(f, maxLineLen)
	var line []byte
	pending := false
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, true, err
		}
		if room := maxLineLen - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			line = append(line, chunk...)
		}
		pending = isPrefix
		if !isPrefix {
			push(line)
			line = line[:0]
		}
	}
	if pending {
		push(line)
	}
	return ring, true, nil
}

// DefaultPaths returns the product's host configuration and install log
// locations for the current user
func DefaultPaths() (configPath, logPath string, err error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", "", err
	}
	root := filepath.Join(base, "CloudyDesk")
	return filepath.Join(root, "config", "CloudyDesk2.toml"),
		filepath.Join(root, "log", "silent-install", "cloudydesk_rCURRENT.log"),
		nil
}
