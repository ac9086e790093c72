package installer

import (
	"bytes"
	"fmt"
	"strings"
)

// Renderer serialises a Description into an installer compiler's script language
type Renderer interface {
	Render(desc Description) ([]byte, error)
	// Extension is the script file extension including the dot
	Extension() string
}

// NSIS renders descriptions as Nullsoft scriptable install system scripts
type NSIS struct{}

var _ Renderer = NSIS{}

func (NSIS) Extension() string { return ".nsi" }

var nsisRoots = map[InstallRoot]string{
	ProgramFiles64: "$PROGRAMFILES64",
	ProgramFiles32: "$PROGRAMFILES32",
}

func (n NSIS) Render(desc Description) ([]byte, error) {
	root, ok := nsisRoots[desc.Root]
	if !ok {
		return nil, fmt.Errorf("unsupported install root %q", desc.Root)
	}

	w := &scriptWriter{}
	w.line("Unicode true")
	w.line(`!include "MUI2.nsh"`)
	w.line(`!include "LogicLib.nsh"`)
	w.blank()

	w.line("Name %s", quote(desc.Name))
	w.line("OutFile %s", quote(desc.OutFile))
	if desc.RequireAdmin {
		w.line("RequestExecutionLevel admin")
	} else {
		w.line("RequestExecutionLevel user")
	}
	if desc.InstallSubdir != "" {
		w.line(`InstallDir "%s\%s"`, root, escape(desc.InstallSubdir))
	} else {
		w.line(`InstallDir "%s"`, root)
	}
	w.line("SilentInstall normal")
	w.line("ShowInstDetails show")
	w.line("SetCompressor /SOLID lzma")
	w.blank()

	w.line(`!define MUI_ICON "${NSISDIR}\Contrib\Graphics\Icons\modern-install.ico"`)
	w.line("!define MUI_HEADERIMAGE")
	w.line(`!define MUI_HEADERIMAGE_BITMAP "${NSISDIR}\Contrib\Graphics\Header\nsis3-grey.bmp"`)
	w.line(`!define MUI_WELCOMEFINISHPAGE_BITMAP "${NSISDIR}\Contrib\Graphics\Wizard\nsis3-grey.bmp"`)
	if desc.Welcome.Title != "" {
		w.line("!define MUI_WELCOMEPAGE_TITLE %s", quote(desc.Welcome.Title))
		w.line("!define MUI_WELCOMEPAGE_TEXT %s", quote(desc.Welcome.Text))
	}
	w.line("!insertmacro MUI_PAGE_WELCOME")
	w.line("!insertmacro MUI_PAGE_INSTFILES")
	if desc.Finish.Title != "" {
		w.line("!define MUI_FINISHPAGE_TITLE %s", quote(desc.Finish.Title))
		w.line("!define MUI_FINISHPAGE_TEXT %s", quote(desc.Finish.Text))
	}
	w.line("!insertmacro MUI_PAGE_FINISH")
	w.line(`!insertmacro MUI_LANGUAGE "English"`)
	w.blank()

	w.line("VIProductVersion %s", quote(desc.ProductVersion))
	for _, k := range desc.VersionKeys {
		w.line("VIAddVersionKey %s %s", quote(k.Name), quote(k.Value))
	}
	w.blank()

	w.line(`Section "Install" SecMain`)
	w.indent++
	w.line("SetAutoClose true")
	w.line("InitPluginsDir")
	w.line(`SetOutPath "$PLUGINSDIR"`)
	for _, f := range desc.Files {
		w.line("File %s %s", quote("/oname="+f.Name), quote(f.Source))
	}
	for _, s := range desc.Steps {
		if err := n.renderStep(w, s); err != nil {
			return nil, err
		}
	}
	w.line(`SetOutPath "$TEMP"`)
	w.indent--
	w.line("SectionEnd")

	if len(desc.Uninstall) > 0 {
		w.blank()
		w.line(`Section "Uninstall"`)
		w.indent++
		for _, u := range desc.Uninstall {
			args := make([]string, 0, len(u.Args))
			for _, a := range u.Args {
				args = append(args, escape(a))
			}
			cmd, err := commandLine(`$INSTDIR\`+escape(u.Program), args)
			if err != nil {
				return nil, err
			}
			w.line("ExecWait %s", cmd)
		}
		w.line(`RMDir /r "$INSTDIR"`)
		w.indent--
		w.line("SectionEnd")
	}

	return w.buf.Bytes(), nil
}

func (n NSIS) renderStep(w *scriptWriter, s Step) error {
	switch s.Kind {
	case StepPrint:
		w.line("DetailPrint %s", quote(s.Message))
	case StepExec:
		args := make([]string, 0, len(s.Args))
		for _, a := range s.Args {
			if a.File {
				args = append(args, pluginPath(a.Value))
				continue
			}
			if strings.ContainsAny(a.Value, "\"\r\n") {
				return fmt.Errorf("argument %q cannot be passed on a command line", a.Value)
			}
			args = append(args, escape(a.Value))
		}
		cmd, err := commandLine(pluginPath(s.Program.Name), args)
		if err != nil {
			return err
		}
		// nsExec pushes the exit code, or "error"/"timeout" when the
		// program could not run, so the comparison is on strings
		w.line("nsExec::ExecToLog %s", cmd)
		w.line("Pop $0")
		w.line(`${If} $0 != "0"`)
		w.indent++
		w.line(`DetailPrint "exit code: $0"`)
		if s.FailureMessage != "" {
			w.line("DetailPrint %s", quote(s.FailureMessage))
		}
		w.line("Abort")
		w.indent--
		w.line("${EndIf}")
	default:
		return fmt.Errorf("unknown step kind %d", s.Kind)
	}
	return nil
}

// pluginPath is a pre-escaped reference to an unpacked bundled file
func pluginPath(name string) string {
	return `$PLUGINSDIR\` + escape(name)
}

// commandLine builds a single quoted NSIS string holding a Windows command
// line. program and args must already be escaped.
func commandLine(program string, args []string) (string, error) {
	var b strings.Builder
	b.WriteString(`'"`)
	b.WriteString(strings.ReplaceAll(program, "'", "$\\'"))
	b.WriteString(`"`)
	for _, a := range args {
		if strings.ContainsRune(a, '"') {
			return "", fmt.Errorf("argument %q cannot contain double quotes", a)
		}
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(a, "'", "$\\'"))
		b.WriteString(`"`)
	}
	b.WriteString(`'`)
	return b.String(), nil
}

var escaper = strings.NewReplacer(
	"$", "$$",
	`"`, `$\"`,
	"\r", `$\r`,
	"\n", `$\n`,
	"\t", `$\t`,
)

// escape makes v safe inside a double quoted NSIS string
func escape(v string) string {
	return escaper.Replace(v)
}

func quote(v string) string {
	return `"` + escape(v) + `"`
}

type scriptWriter struct {
	buf    bytes.Buffer
	indent int
}

func (w *scriptWriter) line(format string, a ...interface{}) {
	w.buf.WriteString(strings.Repeat("    ", w.indent))
	if len(a) == 0 {
		w.buf.WriteString(format)
	} else {
		fmt.Fprintf(&w.buf, format, a...)
	}
	w.buf.WriteByte('\n')
}

func (w *scriptWriter) blank() {
	w.buf.WriteByte('\n')
}
