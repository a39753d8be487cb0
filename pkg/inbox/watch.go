package inbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must go without events before Watch
// reports it.
const DefaultDebounce = 500 * time.Millisecond

// Watch reports each file that appears in, or is rewritten in, the inbox
// once it has settled for debounce. It blocks until ctx is done. Files
// already present when Watch starts are not reported.
func (b *Inbox) Watch(ctx context.Context, debounce time.Duration, fn func(Entry)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(b.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}
	b.logger.Info("watching inbox", "dir", b.dir, "debounce", debounce.String())

	tick := debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("inbox watcher stopped")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if hidden(name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[name] = time.Now()
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			b.logger.Warn("inbox watcher error", "error", err)

		case now := <-ticker.C:
			for name, last := range pending {
				if now.Sub(last) < debounce {
					continue
				}
				delete(pending, name)
				e, err := b.Lookup(name)
				if err != nil {
					continue
				}
				fn(e)
			}
		}
	}
}
