package installer

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/cloudydesk/provisioning/version"
)

// InstallRoot is the well known location the product installs under
type InstallRoot string

const (
	ProgramFiles64 InstallRoot = "ProgramFiles64"
	ProgramFiles32 InstallRoot = "ProgramFiles32"
)

// Page is a text page shown by interactive installers
type Page struct {
	Title string
	Text  string
}

// VersionKey is one entry of the executable's version resource
type VersionKey struct {
	Name  string
	Value string
}

// FileRef names a file bundled into the installer. Bundled files are
// unpacked into a private temporary directory before the steps run.
type FileRef struct {
	Source string
	Name   string
}

// Arg is one command line argument. File arguments are replaced by the
// unpacked path of the bundled file with that name.
type Arg struct {
	Value string
	File  bool
}

func Literal(v string) Arg { return Arg{Value: v} }

func FilePath(f FileRef) Arg { return Arg{Value: f.Name, File: true} }

type StepKind int

const (
	StepPrint StepKind = iota
	StepExec
)

// Step is one action of the install section. An exec step waits for the
// program and aborts the installation with FailureMessage on a non-zero exit.
type Step struct {
	Kind           StepKind
	Message        string
	Program        FileRef
	Args           []Arg
	FailureMessage string
}

// UninstallStep runs a program relative to the install directory
type UninstallStep struct {
	Program string
	Args    []string
}

// Description is a structured installer definition, independent of the
// script language of any particular installer compiler.
type Description struct {
	Name           string
	OutFile        string
	ProductVersion string
	VersionKeys    []VersionKey
	Root           InstallRoot
	InstallSubdir  string
	RequireAdmin   bool
	Welcome        Page
	Finish         Page
	Files          []FileRef
	Steps          []Step
	Uninstall      []UninstallStep
}

// Builder assembles a Description. Errors are collected and reported by Build.
type Builder struct {
	desc Description
	errs []error
}

// NewBuilder starts a description for an installer written to outFile
func NewBuilder(name, outFile string) *Builder {
	return &Builder{
		desc: Description{
			Name:         name,
			OutFile:      outFile,
			Root:         ProgramFiles64,
			RequireAdmin: true,
		},
	}
}

// Version sets the product version and the matching version resource keys
func (b *Builder) Version(productName, productVersion, company string) *Builder {
	v, err := version.FourPart(productVersion)
	if err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	b.desc.ProductVersion = v
	b.desc.VersionKeys = []VersionKey{
		{Name: "ProductName", Value: productName},
		{Name: "FileVersion", Value: v},
		{Name: "CompanyName", Value: company},
		{Name: "LegalCopyright", Value: "© " + company},
	}
	return b
}

func (b *Builder) InstallDir(root InstallRoot, subdir string) *Builder {
	b.desc.Root = root
	b.desc.InstallSubdir = subdir
	return b
}

func (b *Builder) Pages(welcome, finish Page) *Builder {
	b.desc.Welcome = welcome
	b.desc.Finish = finish
	return b
}

// Bundle adds a build host file to the installer and returns its reference
func (b *Builder) Bundle(source string) FileRef {
	ref := FileRef{Source: source, Name: filepath.Base(source)}
	for _, f := range b.desc.Files {
		if f.Name == ref.Name {
			b.errs = append(b.errs, fmt.Errorf("duplicate bundled file name %q", ref.Name))
			return ref
		}
	}
	b.desc.Files = append(b.desc.Files, ref)
	return ref
}

func (b *Builder) Print(message string) *Builder {
	b.desc.Steps = append(b.desc.Steps, Step{Kind: StepPrint, Message: message})
	return b
}

// ExecOrAbort runs a bundled program and aborts the installation when it fails
func (b *Builder) ExecOrAbort(program FileRef, failureMessage string, args ...Arg) *Builder {
	b.desc.Steps = append(b.desc.Steps, Step{
		Kind:           StepExec,
		Program:        program,
		Args:           args,
		FailureMessage: failureMessage,
	})
	return b
}

func (b *Builder) UninstallExec(program string, args ...string) *Builder {
	b.desc.Uninstall = append(b.desc.Uninstall, UninstallStep{Program: program, Args: args})
	return b
}

// Build validates and returns the description
func (b *Builder) Build() (Description, error) {
	var merr *multierror.Error
	for _, err := range b.errs {
		merr = multierror.Append(merr, err)
	}
	if b.desc.Name == "" {
		merr = multierror.Append(merr, errors.New("installer name is empty"))
	}
	if b.desc.OutFile == "" {
		merr = multierror.Append(merr, errors.New("installer output file is empty"))
	}
	if b.desc.ProductVersion == "" && len(b.errs) == 0 {
		merr = multierror.Append(merr, errors.New("product version is not set"))
	}

	bundled := make(map[string]bool, len(b.desc.Files))
	for _, f := range b.desc.Files {
		bundled[f.Name] = true
	}
	for _, s := range b.desc.Steps {
		if s.Kind != StepExec {
			continue
		}
		if !bundled[s.Program.Name] {
			merr = multierror.Append(merr, fmt.Errorf("step program %q is not bundled", s.Program.Name))
		}
		for _, a := range s.Args {
			if a.File && !bundled[a.Value] {
				merr = multierror.Append(merr, fmt.Errorf("step argument file %q is not bundled", a.Value))
			}
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		return Description{}, err
	}
	return b.desc, nil
}
