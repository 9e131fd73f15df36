package main

import (
	"os"

	"github.com/insetd/insetd/internal/policy"
	"github.com/insetd/insetd/internal/util"
)

// policyReloader funnels every reload source (SIGHUP, file watcher, control
// request) through one place so rejected files are diffed against the active
// rule set before the error propagates.
type policyReloader struct {
	engine *policy.Engine
	logger *util.Logger
}

func (r *policyReloader) Reload(reason string) error {
	r.logger.Infof("%s, reloading bar policy", reason)
	previous := r.engine.LastSerialized()
	if err := r.engine.Reload(); err != nil {
		if current, readErr := os.ReadFile(r.engine.Path()); readErr == nil {
			if diff := policy.DiffSerialized(previous, current); diff != "" {
				r.logger.Debugf("rejected policy differs from active rules:\n%s", diff)
			}
		}
		return err
	}
	return nil
}
