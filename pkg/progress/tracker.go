// pkg/progress/tracker.go - filesystem activity tracking while an installer runs

package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/windowsadmins/installwatch/pkg/logging"
)

// Progress is a point-in-time view of install tree activity.
type Progress struct {
	Events        int       `json:"events"`
	Created       int       `json:"created"`
	Modified      int       `json:"modified"`
	Removed       int       `json:"removed"`
	ExpectedSeen  int       `json:"expected_seen"`
	ExpectedTotal int       `json:"expected_total"`
	LastActivity  time.Time `json:"last_activity,omitempty"`
	LastPath      string    `json:"last_path,omitempty"`
}

// Percent is the share of manifest entries that have appeared so far.
func (p Progress) Percent() int {
	if p.ExpectedTotal == 0 {
		return 0
	}
	return p.ExpectedSeen * 100 / p.ExpectedTotal
}

// Tracker watches the install root and counts filesystem events. It never
// reads events on its own; callers drain it between polls.
type Tracker struct {
	root     string
	expected map[string]bool
	seen     map[string]bool
	watcher  *fsnotify.Watcher
	progress Progress
}

// NewTracker starts watching root and every directory below it.
func NewTracker(root string, manifest []string) (*Tracker, error) {
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("cannot watch %s: %w", root, err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("cannot watch %s: not a directory", root)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	t := &Tracker{
		root:     root,
		expected: make(map[string]bool, len(manifest)),
		seen:     make(map[string]bool),
		watcher:  w,
	}
	for _, entry := range manifest {
		t.expected[entry] = true
	}
	t.progress.ExpectedTotal = len(t.expected)

	if err := t.addTree(root); err != nil {
		w.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if err := t.watcher.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		} else {
			t.markSeen(path)
		}
		return nil
	})
}

func (t *Tracker) markSeen(path string) {
	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if t.expected[rel] && !t.seen[rel] {
		t.seen[rel] = true
		t.progress.ExpectedSeen++
	}
}

// Drain consumes every pending event without blocking and returns the
// updated counters.
func (t *Tracker) Drain() Progress {
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return t.progress
			}
			t.handle(ev)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return t.progress
			}
			logging.Debug("Install tree watcher error", "error", err)
		default:
			return t.progress
		}
	}
}

func (t *Tracker) handle(ev fsnotify.Event) {
	t.progress.Events++
	t.progress.LastActivity = time.Now()
	t.progress.LastPath = ev.Name

	switch {
	case ev.Op&fsnotify.Create == fsnotify.Create:
		t.progress.Created++
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := t.addTree(ev.Name); err != nil {
				logging.Debug("Failed to watch new directory", "path", ev.Name, "error", err)
			}
			return
		}
		t.markSeen(ev.Name)
	case ev.Op&fsnotify.Write == fsnotify.Write:
		t.progress.Modified++
		t.markSeen(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		t.progress.Removed++
	}
}

// Summary renders the counters for log lines.
func (p Progress) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d expected files (%d%%), %d events", p.ExpectedSeen, p.ExpectedTotal, p.Percent(), p.Events)
	if p.LastPath != "" {
		fmt.Fprintf(&b, ", last: %s", filepath.Base(p.LastPath))
	}
	return b.String()
}

// SaveProgressFile writes progress.json into dir for external monitoring.
func (t *Tracker) SaveProgressFile(dir string, attempt int, elapsed time.Duration) error {
	data, err := json.MarshalIndent(struct {
		Attempt   int      `json:"attempt"`
		ElapsedMS int64    `json:"elapsed_ms"`
		Percent   int      `json:"percent"`
		Progress  Progress `json:"progress"`
	}{attempt, elapsed.Milliseconds(), t.progress.Percent(), t.progress}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "progress.json"), data, 0644)
}

// Close stops watching.
func (t *Tracker) Close() error {
	return t.watcher.Close()
}
