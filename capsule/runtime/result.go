package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/util"
)

// InstallResult is the completion record an installer wrapper may leave
// behind. Installers that do not write one fall back to the grace period.
type InstallResult struct {
	Success    bool
	Error      string
	ExecutedAt time.Time
}

// ResultWatcher waits for an installer's completion record
type ResultWatcher struct {
	path string
}

func NewResultWatcher(path string) *ResultWatcher {
	return &ResultWatcher{path: path}
}

// Wait blocks until the result file appears or ctx ends
func (rw *ResultWatcher) Wait(ctx context.Context) (InstallResult, error) {
	log.Infof("waiting for installer result: %s", rw.path)

	// the installer may have finished before we started watching
	if result, err := rw.tryRead(); err == nil {
		return result, nil
	}

	dir := filepath.Dir(rw.path)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for !util.DirExists(dir) {
		select {
		case <-ctx.Done():
			return InstallResult{}, ctx.Err()
		case <-ticker.C:
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return InstallResult{}, err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			log.Warnf("failed to close watcher: %v", err)
		}
	}()

	// watch the directory, the file does not exist yet
	if err := watcher.Add(dir); err != nil {
		return InstallResult{}, fmt.Errorf("failed to watch directory: %w", err)
	}

	// close the gap between the first read and the watch registration
	if result, err := rw.tryRead(); err == nil {
		return result, nil
	}

	for {
		select {
		case <-ctx.Done():
			return InstallResult{}, ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return InstallResult{}, errors.New("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != filepath.Clean(rw.path) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				result, err := rw.tryRead()
				if err != nil {
					log.Debugf("result not readable yet: %v", err)
					continue
				}
				return result, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return InstallResult{}, errors.New("watcher closed unexpectedly")
			}
			return InstallResult{}, fmt.Errorf("watcher error: %w", err)
		}
	}
}

// Write stores a result atomically
func (rw *ResultWatcher) Write(ctx context.Context, result InstallResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return util.WriteBytes(ctx, rw.path, data, 0o644)
}

func (rw *ResultWatcher) tryRead() (InstallResult, error) {
	data, err := os.ReadFile(rw.path)
	if err != nil {
		return InstallResult{}, err
	}

	var result InstallResult
	if err := json.Unmarshal(data, &result); err != nil {
		return InstallResult{}, fmt.Errorf("invalid result format: %w", err)
	}
	return result, nil
}
