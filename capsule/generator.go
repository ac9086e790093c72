package capsule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cloudydesk/provisioning/capsule/installer"
	"github.com/cloudydesk/provisioning/config"
	"github.com/cloudydesk/provisioning/shared/status"
	"github.com/cloudydesk/provisioning/util"
)

// Capsule is a generated per-client installer
type Capsule struct {
	Spec        ClientSpec
	OutputPath  string
	Size        int64
	Acquisition Acquisition
	RunID       string
}

// Generator synthesises installer capsules. A Generator holds no per-run
// state and may be used concurrently for different clients.
type Generator struct {
	cfg       *config.Config
	strategy  Strategy
	renderer  installer.Renderer
	compiler  installer.Compiler
	outputDir string
	now       func() time.Time
}

// NewGenerator creates a Generator writing capsules to cfg.Builder.OutputDir
func NewGenerator(cfg *config.Config, strategy Strategy, compiler installer.Compiler) *Generator {
	return &Generator{
		cfg:       cfg,
		strategy:  strategy,
		renderer:  installer.NSIS{},
		compiler:  compiler,
		outputDir: cfg.Builder.OutputDir,
		now:       time.Now,
	}
}

// WithRenderer selects another installer script backend
func (g *Generator) WithRenderer(r installer.Renderer) *Generator {
	g.renderer = r
	return g
}

// Generate builds the capsule for one client. The ClientSpec is validated before the
// strategy runs, so an invalid spec never reaches object storage. On success
// only the output executable remains; on failure the work directory is kept
// for diagnosis.
func (g *Generator) Generate(ctx context.Context, spec ClientSpec) (Capsule, error) {
	if err := spec.Validate(); err != nil {
		return Capsule{}, err
	}

	runID := xid.New().String()
	ctx = util.WithAgentID(util.WithSource(ctx, util.BuildSource), spec.AgentID)
	logger := log.WithContext(ctx).WithField("run", runID)

	runtimeBinary, err := filepath.Abs(g.cfg.Builder.RuntimeBinary)
	if err != nil || !util.FileExists(runtimeBinary) {
		return Capsule{}, status.Errorf(status.CompilationFailed, "capsule runtime binary %s not found", g.cfg.Builder.RuntimeBinary)
	}

	outputDir, err := filepath.Abs(g.outputDir)
	if err != nil {
		return Capsule{}, status.Wrap(status.Internal, "prepare", err)
	}
	names := NamesFor(spec.AgentID)
	workDir := filepath.Join(outputDir, fmt.Sprintf(".%s-%s", names.Base, runID))
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return Capsule{}, status.Wrap(status.Internal, "prepare", err)
	}

	capsule, err := g.generate(ctx, spec, names, runtimeBinary, outputDir, workDir)
	if err != nil {
		logger.Errorf("generation failed, intermediates kept in %s: %v", workDir, err)
		return Capsule{}, err
	}
	capsule.RunID = runID

	if err := os.RemoveAll(workDir); err != nil {
		logger.Warnf("failed to remove intermediates in %s: %v", workDir, err)
	}

	logger.Infof("capsule ready: %s (%d bytes)", capsule.OutputPath, capsule.Size)
	return capsule, nil
}

func (g *Generator) generate(ctx context.Context, spec ClientSpec, names Names, runtimeBinary, outputDir, workDir string) (Capsule, error) {
	acq, bundled, err := g.strategy.Acquire(util.WithStep(ctx, "acquire"), workDir, names)
	if err != nil {
		return Capsule{}, status.WithStep("acquire", err)
	}

	manifestPath := filepath.Join(workDir, names.Manifest)
	manifest := NewManifest(spec, acq, g.cfg, g.now())
	if err := WriteManifest(ctx, manifestPath, manifest); err != nil {
		return Capsule{}, status.Wrap(status.Internal, "write-manifest", err)
	}

	outputPath := filepath.Join(outputDir, names.Output)
	desc, err := g.describe(spec, acq, runtimeBinary, manifestPath, outputPath, bundled)
	if err != nil {
		return Capsule{}, status.Wrap(status.Internal, "describe", err)
	}

	script, err := g.renderer.Render(desc)
	if err != nil {
		return Capsule{}, status.Wrap(status.Internal, "render", err)
	}
	scriptPath := filepath.Join(workDir, names.Base+g.renderer.Extension())
	if err := util.WriteBytes(ctx, scriptPath, script, 0o600); err != nil {
		return Capsule{}, status.Wrap(status.Internal, "render", err)
	}

	if err := g.compiler.Compile(ctx, scriptPath); err != nil {
		return Capsule{}, status.WithStep("compile", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Capsule{}, status.Errorf(status.CompilationFailed, "installer not found after compilation: %s", outputPath)
	}

	return Capsule{
		Spec:        spec,
		OutputPath:  outputPath,
		Size:        info.Size(),
		Acquisition: acq,
	}, nil
}

func (g *Generator) describe(spec ClientSpec, acq Acquisition, runtimeBinary, manifestPath, outputPath string, bundled []string) (installer.Description, error) {
	product := g.cfg.Product

	action := "download and install"
	if acq.Mode == AcquireEmbedded {
		action = "install"
	}

	b := installer.NewBuilder(fmt.Sprintf("%s Agent - %s", product.Name, spec.AgentID), outputPath).
		Version(fmt.Sprintf("%s Agent %s", product.Name, spec.AgentID), product.Version, product.CompanyName).
		InstallDir(installer.ProgramFiles64, product.InstallDir).
		Pages(
			installer.Page{
				Title: product.Name + " Remote Access",
				Text:  fmt.Sprintf("%s installer will %s the software.  Agent ID: %s  Click Next to continue.", product.Name, action, spec.AgentID),
			},
			installer.Page{
				Title: "Installation Complete",
				Text:  product.Name + " installed successfully. The service will start automatically.",
			},
		)

	runtimeRef := b.Bundle(runtimeBinary)
	manifestRef := b.Bundle(manifestPath)
	for _, f := range bundled {
		b.Bundle(f)
	}

	b.Print("Agent ID: "+spec.AgentID).
		Print(fmt.Sprintf("Preparing to %s %s...", action, product.Name)).
		ExecOrAbort(runtimeRef, fmt.Sprintf("ERROR: %s installation failed. See the messages above.", product.Name),
			installer.Literal("run"), installer.Literal("--manifest"), installer.FilePath(manifestRef)).
		Print("Installation completed successfully!").
		UninstallExec(product.Executable, "--uninstall")

	return b.Build()
}

// GenerateBatch generates capsules for several clients concurrently. Each
// generation is independent; the first failure cancels the rest.
func (g *Generator) GenerateBatch(ctx context.Context, specs []ClientSpec, concurrency int) ([]Capsule, error) {
	seen := make(map[string]string, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		safe := SafeName(s.AgentID)
		if other, ok := seen[safe]; ok {
			return nil, status.NewInvalidSpecError("agent ids %q and %q map to the same capsule name", other, s.AgentID)
		}
		seen[safe] = s.AgentID
	}

	capsules := make([]Capsule, len(specs))
	eg, egCtx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for i, s := range specs {
		eg.Go(func() error {
			c, err := g.Generate(egCtx, s)
			if err != nil {
				return fmt.Errorf("generate capsule for %s: %w", s.AgentID, err)
			}
			capsules[i] = c
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return capsules, nil
}
