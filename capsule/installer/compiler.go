package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
)

// Compiler turns a rendered installer script into an executable
type Compiler interface {
	// Compile runs the compiler on script in its directory. The returned
	// error carries the compiler diagnostics on failure.
	Compile(ctx context.Context, script string) error
}

// MakeNSIS drives the makensis command line compiler
type MakeNSIS struct {
	candidates     []string
	probeTimeout   time.Duration
	compileTimeout time.Duration

	mu       sync.Mutex
	probed   bool
	resolved string
	probeErr error
}

var _ Compiler = (*MakeNSIS)(nil)

// NewMakeNSIS creates a compiler that uses the first candidate answering a
// version probe
func NewMakeNSIS(candidates []string, probeTimeout, compileTimeout time.Duration) *MakeNSIS {
	return &MakeNSIS{
		candidates:     candidates,
		probeTimeout:   probeTimeout,
		compileTimeout: compileTimeout,
	}
}

// Discover returns the compiler path, probing the candidates on first use.
// A probe cut short by ctx is not remembered.
func (m *MakeNSIS) Discover(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.probed {
		return m.resolved, m.probeErr
	}

	resolved, err := m.probe(ctx)
	if err != nil && ctx.Err() != nil {
		return "", status.NewCompilationFailedError(fmt.Errorf("makensis discovery interrupted: %w", ctx.Err()), "")
	}
	m.probed = true
	m.resolved, m.probeErr = resolved, err
	return resolved, err
}

func (m *MakeNSIS) probe(ctx context.Context) (string, error) {
	var tried []string
	for _, candidate := range m.candidates {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		out, err := exec.CommandContext(pctx, candidate, "/VERSION").CombinedOutput()
		cancel()
		if err != nil {
			log.Debugf("makensis candidate %s rejected: %v", candidate, err)
			tried = append(tried, candidate)
			continue
		}
		log.Infof("using makensis %s (%s)", candidate, strings.TrimSpace(string(out)))
		return candidate, nil
	}

	return "", status.NewCompilationFailedError(
		errors.New("makensis not found, install NSIS from https://nsis.sourceforge.io/"),
		"tried: "+strings.Join(tried, ", "),
	)
}

func (m *MakeNSIS) Compile(ctx context.Context, script string) error {
	makensis, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, m.compileTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, makensis, filepath.Base(script))
	cmd.Dir = filepath.Dir(script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	log.Infof("compiling %s", script)
	start := time.Now()
	err = cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("compilation timed out after %s", m.compileTimeout)
	}
	if err != nil {
		return status.NewCompilationFailedError(err, diagnostics(stdout.String(), stderr.String()))
	}

	log.Infof("compiled %s in %s", filepath.Base(script), time.Since(start).Round(time.Millisecond))
	return nil
}

func diagnostics(stdout, stderr string) string {
	return fmt.Sprintf("Output: %s\nError: %s", strings.TrimSpace(stdout), strings.TrimSpace(stderr))
}
