package config

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/pcplant/logging"
)

// ReconfigureLevelAll is the level passed along with a snapshot read from a file: any field may
// have changed.
const ReconfigureLevelAll = ^uint32(0)

// ReadParams reads a reconfiguration snapshot from a JSON file, substituting environment variables
// first.
func ReadParams(filePath string) (*PathIntegralParams, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var attrs map[string]interface{}
	if err := json.NewDecoder(bytes.NewReader(buf)).Decode(&attrs); err != nil {
		return nil, errors.Wrapf(err, "failed to decode params from %s", filePath)
	}
	params, err := ParamsFromMap(attrs)
	if err != nil {
		return nil, err
	}
	if err := params.Validate("params"); err != nil {
		return nil, errors.Wrapf(err, "invalid params in %s", filePath)
	}
	return params, nil
}

// WatchParams reads the snapshot at filePath, hands it to apply, and then does so again every time
// the file is written or replaced, until ctx is done. A file that fails to read or validate is
// logged and skipped; the previous snapshot stays in effect. Only the first read is fatal.
func WatchParams(
	ctx context.Context,
	filePath string,
	apply func(params *PathIntegralParams, level uint32),
	logger logging.Logger,
) error {
	params, err := ReadParams(filePath)
	if err != nil {
		return err
	}
	apply(params, ReconfigureLevelAll)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create params watcher")
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			logger.Warnw("failed to close params watcher", "error", err)
		}
	}()
	// Watch the directory so that editors which write a new file and rename it over the old one
	// are seen too.
	if err := watcher.Add(filepath.Dir(filePath)); err != nil {
		return errors.Wrapf(err, "failed to watch %s", filePath)
	}
	target := filepath.Clean(filePath)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnw("params watcher error", "error", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			params, err := ReadParams(filePath)
			if err != nil {
				logger.Warnw("ignoring unreadable params file", "path", filePath, "error", err)
				continue
			}
			logger.Infow("params reloaded", "path", filePath)
			apply(params, ReconfigureLevelAll)
		}
	}
}
