package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/capsule"
	cderrors "github.com/cloudydesk/provisioning/shared/errors"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/util"
)

const (
	payloadName = "payload.zip"
	appDirName  = "app"

	defaultInstallTimeout = 5 * time.Minute
)

// Outcome is the result of one capsule execution
type Outcome struct {
	State       State
	Err         error
	Warnings    []string
	InstallDir  string
	ScratchDir  string
	Transitions []TransitionRecord
}

// Runtime executes a capsule manifest on the target host. Steps run strictly
// in sequence; the scratch directory is removed on every path.
type Runtime struct {
	manifest     capsule.Manifest
	manifestDir  string
	scratchRoot  string
	installRoots []string
	launcher     Launcher
	client       *http.Client
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	removeAll    func(path string) error
}

// Option customises a Runtime
type Option func(*Runtime)

// WithScratchRoot sets the parent of the per-run scratch directory
func WithScratchRoot(dir string) Option {
	return func(r *Runtime) { r.scratchRoot = dir }
}

// WithInstallRoots replaces the locations probed for the installed product
func WithInstallRoots(roots ...string) Option {
	return func(r *Runtime) { r.installRoots = roots }
}

func WithLauncher(l Launcher) Option {
	return func(r *Runtime) { r.launcher = l }
}

func WithHTTPClient(c *http.Client) Option {
	return func(r *Runtime) { r.client = c }
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Runtime) { r.sleep = sleep }
}

// New creates a Runtime for a manifest loaded from manifestDir
func New(manifest capsule.Manifest, manifestDir string, opts ...Option) *Runtime {
	r := &Runtime{
		manifest:     manifest,
		manifestDir:  manifestDir,
		scratchRoot:  os.TempDir(),
		installRoots: DefaultInstallRoots(),
		launcher:     ExecLauncher{},
		client:       http.DefaultClient,
		now:          time.Now,
		sleep:        sleepWithContext,
		removeAll:    os.RemoveAll,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type run struct {
	machine    *machine
	scratch    string
	appDir     string
	installDir string
	warnings   []string
}

// Run drives the capsule through its states and always ends in a terminal one
func (r *Runtime) Run(ctx context.Context) Outcome {
	ctx = util.WithAgentID(util.WithSource(ctx, util.CapsuleSource), r.manifest.Client.AgentID)
	logger := log.WithContext(ctx)

	rn := &run{machine: newMachine(r.now)}
	runErr := r.execute(ctx, rn)
	if runErr != nil {
		logger.Errorf("capsule failed in %s: %v", rn.machine.state, runErr)
	}

	if err := rn.machine.advance(StateCleanup); err != nil {
		runErr = multierror.Append(runErr, err)
	}
	if err := r.cleanup(rn); err != nil {
		logger.Errorf("cleanup failed, remove %s manually: %v", rn.scratch, err)
		if runErr != nil {
			runErr = multierror.Append(runErr, err)
		} else {
			// the product is installed and verified, only the leftover is reported
			rn.warnings = append(rn.warnings, fmt.Sprintf("scratch directory %s was not removed: %v", rn.scratch, err))
		}
	}

	final := StateSucceeded
	switch {
	case runErr != nil:
		final = StateFailed
	case len(rn.warnings) > 0:
		final = StateSucceededWithWarning
	}
	if err := rn.machine.advance(final); err != nil {
		logger.Errorf("failed to record terminal state: %v", err)
	}

	logger.Infof("capsule finished: %s", final)
	return Outcome{
		State:       final,
		Err:         flatten(runErr),
		Warnings:    rn.warnings,
		InstallDir:  rn.installDir,
		ScratchDir:  rn.scratch,
		Transitions: rn.machine.history,
	}
}

func (r *Runtime) execute(ctx context.Context, rn *run) error {
	rn.scratch = filepath.Join(r.scratchRoot, fmt.Sprintf("cloudydesk-%s-%s", capsule.SafeName(r.manifest.Client.AgentID), xid.New().String()))
	if err := os.MkdirAll(rn.scratch, 0o700); err != nil {
		return status.Wrap(status.Internal, "init", fmt.Errorf("create scratch directory: %w", err))
	}
	if err := util.RestrictDir(rn.scratch); err != nil {
		log.WithContext(ctx).Warnf("failed to restrict access to %s: %v", rn.scratch, err)
	}
	rn.appDir = filepath.Join(rn.scratch, appDirName)

	steps := []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{StateAcquiring, r.acquire},
		{StateConfiguring, r.configure},
		{StateInstalling, r.install},
		{StateVerifying, r.verify},
	}
	for _, s := range steps {
		if err := rn.machine.advance(s.state); err != nil {
			return status.Wrap(status.Internal, string(s.state), err)
		}
		if err := s.fn(util.WithStep(ctx, string(s.state)), rn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) acquire(ctx context.Context, rn *run) error {
	acq := r.manifest.Acquisition

	var archive string
	switch acq.Mode {
	case capsule.AcquireRemote:
		if !acq.ExpiresAt.IsZero() && r.now().After(acq.ExpiresAt) {
			log.WithContext(ctx).Warnf("download grant expired at %s, the download will most likely be refused", acq.ExpiresAt.Format(time.RFC3339))
		}
		log.WithContext(ctx).Infof("downloading %s", r.manifest.Product.Name)
		archive = filepath.Join(rn.scratch, payloadName)
		if err := DownloadToFile(ctx, r.client, acq.URL, archive); err != nil {
			return err
		}
	case capsule.AcquireEmbedded:
		archive = filepath.Join(r.manifestDir, acq.Payload)
		if !util.FileExists(archive) {
			return status.Errorf(status.ExtractionFailed, "embedded payload %s is missing", archive)
		}
	default:
		return status.Errorf(status.Internal, "unknown acquisition mode %q", acq.Mode)
	}

	if _, err := Extract(archive, rn.appDir); err != nil {
		return err
	}

	exe := filepath.Join(rn.appDir, r.manifest.Product.Executable)
	if !util.FileExists(exe) {
		return status.Errorf(status.ExtractionFailed, "%s not found in the artifact", r.manifest.Product.Executable)
	}
	return nil
}

// configure writes the identity file and then the override file, in that
// order, so the override is always the last entitlement source written
func (r *Runtime) configure(ctx context.Context, rn *run) error {
	m := r.manifest
	if err := util.WriteBytes(ctx, filepath.Join(rn.appDir, capsule.IdentityFileName), capsule.RenderIdentity(m.Client.AgentID), 0o644); err != nil {
		return status.Wrap(status.Internal, "configure", err)
	}
	if err := util.WriteBytes(ctx, filepath.Join(rn.appDir, capsule.OverrideFileName), capsule.RenderOverride(m.Client.AgentID, m.Client.LicenseKey, r.now()), 0o644); err != nil {
		return status.Wrap(status.Internal, "configure", err)
	}
	log.WithContext(ctx).Infof("agent configuration written, license %s", util.MaskSecret(m.Client.LicenseKey))
	return nil
}

// install starts the product installer and waits for a completion signal.
// Without a result file the grace period is a best effort synchronisation
// point, not a guarantee that the installer finished.
func (r *Runtime) install(ctx context.Context, rn *run) error {
	m := r.manifest
	exe := filepath.Join(rn.appDir, m.Product.Executable)
	if err := r.launcher.Start(rn.appDir, exe, m.InstallerArgs()); err != nil {
		return status.WithStep("install", asInvocationError(err))
	}

	if m.ResultFile == "" {
		log.WithContext(ctx).Infof("installer started, waiting %s", m.GracePeriod)
		if err := r.sleep(ctx, m.GracePeriod); err != nil {
			return status.Wrap(status.InstallerInvocationFailed, "install", err)
		}
		return nil
	}

	timeout := m.InstallTimeout
	if timeout <= 0 {
		timeout = defaultInstallTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := NewResultWatcher(m.ResultFile).Wait(wctx)
	if err != nil {
		rn.warnings = append(rn.warnings, fmt.Sprintf("no installer result within %s: %v", timeout, err))
		return nil
	}
	if !result.Success {
		return status.Errorf(status.InstallerInvocationFailed, "installer reported failure: %s", result.Error)
	}
	return nil
}

func asInvocationError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Wrap(status.InstallerInvocationFailed, "install", err)
}

func (r *Runtime) verify(ctx context.Context, rn *run) error {
	m := r.manifest
	logger := log.WithContext(ctx)

	installDir, ok := LocateInstall(r.installRoots, m.Product.InstallDir, m.Product.Executable)
	if !ok {
		return status.Errorf(status.VerificationIncomplete, "%s not found under %v", m.Product.Executable, r.installRoots)
	}
	rn.installDir = installDir
	logger.Infof("%s installed at %s", m.Product.Name, installDir)

	if m.Product.DataDir != "" && !util.DirExists(filepath.Join(installDir, m.Product.DataDir)) {
		rn.warnings = append(rn.warnings, fmt.Sprintf("%s folder not found in %s", m.Product.DataDir, installDir))
	}

	// the product installer may still be writing; the copy is not coordinated with it
	for _, name := range []string{capsule.OverrideFileName, capsule.IdentityFileName} {
		if err := util.CopyFileContents(filepath.Join(rn.appDir, name), filepath.Join(installDir, name)); err != nil {
			rn.warnings = append(rn.warnings, fmt.Sprintf("failed to copy %s to %s: %v", name, installDir, err))
		}
	}

	for _, w := range rn.warnings {
		logger.Warn(w)
	}
	return nil
}

func (r *Runtime) cleanup(rn *run) error {
	if rn.scratch == "" {
		return nil
	}

	var merr *multierror.Error
	if err := r.removeAll(rn.scratch); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("remove scratch directory: %w", err))
	}
	if _, err := os.Stat(rn.scratch); err == nil {
		merr = multierror.Append(merr, fmt.Errorf("scratch directory %s still present", rn.scratch))
	} else if !errors.Is(err, os.ErrNotExist) {
		merr = multierror.Append(merr, err)
	}

	if err := cderrors.FormatErrorOrNil(merr); err != nil {
		return status.Wrap(status.Internal, "cleanup", err)
	}
	log.Debugf("removed scratch directory %s", rn.scratch)
	return nil
}

// LocateInstall returns the first root containing subdir/executable
func LocateInstall(roots []string, subdir, executable string) (string, bool) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		dir := filepath.Join(root, subdir)
		if util.FileExists(filepath.Join(dir, executable)) {
			return dir, true
		}
	}
	return "", false
}

// DefaultInstallRoots returns the 64-bit and 32-bit program directories
func DefaultInstallRoots() []string {
	candidates := []string{
		os.Getenv("ProgramW6432"),
		os.Getenv("ProgramFiles"),
		os.Getenv("ProgramFiles(x86)"),
		`C:\Program Files`,
		`C:\Program Files (x86)`,
	}

	seen := make(map[string]bool)
	var roots []string
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		roots = append(roots, c)
	}
	return roots
}

// flatten unwraps single error aggregates so callers can inspect the status type
func flatten(err error) error {
	var merr *multierror.Error
	if errors.As(err, &merr) {
		if len(merr.Errors) == 1 {
			return merr.Errors[0]
		}
		return merr.ErrorOrNil()
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
