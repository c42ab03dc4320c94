package rebuild

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Watcher polls the build context for changes.
type Watcher struct {
	dir      string
	interval time.Duration

	mu       sync.Mutex
	accepted Fingerprint
	// last change reported by WaitForChange, not yet accepted
	pending    Fingerprint
	hasPending bool
}

// NewWatcher captures the current state of dir as the baseline.
func NewWatcher(dir string, interval time.Duration) (*Watcher, error) {
	fp, err := Compute(dir)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"dir": dir, "fingerprint": fp}).Debug("watching build context")
	return &Watcher{dir: dir, interval: interval, accepted: fp}, nil
}

func (w *Watcher) Baseline() Fingerprint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accepted
}

// WaitForChange blocks until the fingerprint differs from the baseline or ctx
// is done. Walk errors are logged and retried on the next tick.
func (w *Watcher) WaitForChange(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		fp, err := Compute(w.dir)
		if err != nil {
			log.WithError(err).Warn("fingerprinting build context")
			continue
		}
		w.mu.Lock()
		changed := fp != w.accepted
		if changed {
			w.pending, w.hasPending = fp, true
		}
		w.mu.Unlock()
		if changed {
			log.WithFields(log.Fields{"dir": w.dir, "fingerprint": fp}).Debug("build context changed")
			return nil
		}
	}
}

// Accept makes the change last reported by WaitForChange the baseline, so
// edits made while rebuilding are reported again. Without a reported change
// (a rebuild the operator asked for) the current content becomes the
// baseline. It is called after every rebuild attempt, failed ones included,
// so a broken build waits for the next edit instead of looping.
func (w *Watcher) Accept() {
	w.mu.Lock()
	if w.hasPending {
		w.accepted, w.hasPending = w.pending, false
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	fp, err := Compute(w.dir)
	if err != nil {
		log.WithError(err).Warn("fingerprinting build context")
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accepted = fp
}
