package util

import (
	"context"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogSource string

const (
	BuildSource   LogSource = "BUILD"
	CapsuleSource LogSource = "CAPSULE"
	SystemSource  LogSource = "SYSTEM"

	// LogConsole routes log output to stderr
	LogConsole = "console"
)

type contextKey string

const (
	sourceKey  contextKey = "source"
	agentIDKey contextKey = "agentID"
	stepKey    contextKey = "step"
)

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != LogConsole {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	} else {
		log.SetOutput(os.Stderr)
	}

	log.SetFormatter(&CustomFormatter{})
	log.SetLevel(level)
	return nil
}

// WithSource tags ctx so log entries created with log.WithContext(ctx) carry the source fields
func WithSource(ctx context.Context, source LogSource) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// WithAgentID tags ctx with the client identity a build or capsule run is working for
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// WithStep tags ctx with the pipeline step name
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey, step)
}

// CustomFormatter formats the log message as required
type CustomFormatter struct {
	log.TextFormatter
}

func (f *CustomFormatter) Format(entry *log.Entry) ([]byte, error) {
	if entry.Context == nil {
		return f.TextFormatter.Format(entry)
	}

	source, _ := entry.Context.Value(sourceKey).(LogSource)
	switch source {
	case BuildSource, CapsuleSource:
		return f.formatPipelineLog(entry, source)
	case SystemSource:
		return f.formatSystemLog(entry)
	default:
		return f.TextFormatter.Format(entry)
	}
}

func (f *CustomFormatter) formatPipelineLog(entry *log.Entry, source LogSource) ([]byte, error) {
	entry.Data["source"] = string(source)
	if agentID, ok := entry.Context.Value(agentIDKey).(string); ok && agentID != "" {
		entry.Data["agentID"] = agentID
	}
	if step, ok := entry.Context.Value(stepKey).(string); ok && step != "" {
		entry.Data["step"] = step
	}

	return f.TextFormatter.Format(entry)
}

func (f *CustomFormatter) formatSystemLog(entry *log.Entry) ([]byte, error) {
	entry.Data["source"] = string(SystemSource)
	return f.TextFormatter.Format(entry)
}
