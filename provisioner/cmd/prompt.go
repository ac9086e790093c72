package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/cloudydesk/provisioning/capsule"
)

// prompter asks the operator for the parts of a ClientSpec missing from the
// command line. Entitlement keys are read without echo when stdin is a terminal.
type prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
}

func newTerminalPrompter() (*prompter, bool) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, false
	}
	return &prompter{
		in:  bufio.NewReader(os.Stdin),
		out: os.Stderr,
		readSecret: func() (string, error) {
			b, err := term.ReadPassword(fd)
			return string(b), err
		},
	}, true
}

func (p *prompter) line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	s, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(label string) (string, error) {
	if p.readSecret == nil {
		return p.line(label)
	}
	fmt.Fprint(p.out, label)
	s, err := p.readSecret()
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// complete fills in the empty fields of spec. Shortcuts are asked about only
// when the identity itself had to be prompted for.
func (p *prompter) complete(spec capsule.ClientSpec) (capsule.ClientSpec, error) {
	askShortcuts := spec.AgentID == ""
	var err error

	if spec.AgentID == "" {
		if spec.AgentID, err = p.line("Agent ID: "); err != nil {
			return spec, fmt.Errorf("read agent id: %w", err)
		}
	}
	if spec.LicenseKey == "" {
		if spec.LicenseKey, err = p.secret("License key: "); err != nil {
			return spec, fmt.Errorf("read license key: %w", err)
		}
	}
	if askShortcuts {
		answer, err := p.line("Create desktop and start menu shortcuts? (y/N): ")
		if err != nil {
			return spec, fmt.Errorf("read shortcut choice: %w", err)
		}
		spec.WithShortcuts = strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	}
	return spec, nil
}
