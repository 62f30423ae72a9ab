package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// debounceWrite is how long the watcher waits after a fsnotify Write
// event before reloading, coalescing the burst of events a single
// "editor saves the file" produces. A test-only var so tests don't
// need to sleep for the real interval.
var debounceWrite = 250 * time.Millisecond

// Watcher re-loads Config whenever its source .env or overlay file
// changes on disk, swapping the observable Config under a lock rather
// than mutating it in place so concurrent readers never see a
// half-applied reload.
type Watcher struct {
	mu   sync.RWMutex
	cfg  Config
	path string

	lastHash string

	watcher *fsnotify.Watcher
	logger  zerolog.Logger
	stop    chan struct{}
}

// NewWatcher loads an initial Config and prepares a Watcher over
// whichever file backs it (the resolved .env path, or the
// SELFSTART_CONFIG_FILE overlay if that's what's present). A Config
// with neither source resolvable still watcher-constructs cleanly;
// Watch then has nothing to watch and simply blocks on ctx.
func NewWatcher(logger zerolog.Logger) (*Watcher, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	path, _ := findEnvFile()
	if cfg.ConfigFile != "" {
		path = cfg.ConfigFile
	}
	return &Watcher{
		cfg:    *cfg,
		path:   path,
		logger: logger.With().Str("component", "config.watcher").Logger(),
		stop:   make(chan struct{}),
	}, nil
}

// Current returns a copy of the live Config, safe to call concurrently
// with Watch's reloads.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Watch starts the filesystem watch and blocks until ctx is cancelled
// or Stop is called. If the watcher has no resolvable path it just
// waits on ctx, so callers can always run it unconditionally.
func (w *Watcher) Watch(ctx context.Context) error {
	if w.path == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	w.watcher = fw

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.handleEvents(ctx, fw.Events, fw.Errors)
	return nil
}

// Stop ends an in-progress Watch.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Watcher) handleEvents(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWrite, w.reload)
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("config reload: read failed")
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash

	cfg, err := Load()
	if err != nil {
		w.logger.Warn().Err(err).Msg("config reload: validation failed, keeping previous config")
		return
	}

	w.mu.Lock()
	w.cfg = *cfg
	w.mu.Unlock()
	w.logger.Info().Str("path", w.path).Msg("config reloaded")
}
