package sense

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sweeney/fmtxd/internal/logic"
)

// FileSource watches a directory holding one file per condition, named
// after the condition ("offline", "call_active", ...) and containing a
// boolean. A missing file reads as false. Other files are ignored.
type FileSource struct {
	dir     string
	watcher *fsnotify.Watcher
	now     func() time.Time
}

// NewFileSource creates a watcher on dir.
func NewFileSource(dir string) (*FileSource, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve conditions dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("conditions dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("conditions dir %s: not a directory", abs)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}
	return &FileSource{dir: abs, watcher: w, now: time.Now}, nil
}

// Dir returns the watched directory.
func (s *FileSource) Dir() string {
	return s.dir
}

// Scan reads every condition file once. Conditions without a file are
// reported as false.
func (s *FileSource) Scan() ([]Change, error) {
	now := s.now()
	var changes []Change
	for _, c := range logic.AllConditions() {
		v, err := s.read(c)
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{Condition: c, Value: v, Time: now, Source: "file"})
	}
	return changes, nil
}

// Run forwards changes to out until ctx is cancelled or the watcher closes.
// Unreadable files are logged and skipped.
func (s *FileSource) Run(ctx context.Context, out chan<- Change) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			c, err := logic.ParseCondition(filepath.Base(event.Name))
			if err != nil {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			v, err := s.read(c)
			if err != nil {
				log.Printf("condition file %s: %v", event.Name, err)
				continue
			}
			select {
			case out <- Change{Condition: c, Value: v, Time: s.now(), Source: "file"}:
			case <-ctx.Done():
				return ctx.Err()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("condition watcher error: %v", err)
		}
	}
}

// RouteEngaged re-reads the route file. It satisfies logic.RouteProbe.
func (s *FileSource) RouteEngaged() (bool, error) {
	return s.read(logic.RouteEngaged)
}

// Close stops the watcher.
func (s *FileSource) Close() error {
	return s.watcher.Close()
}

func (s *FileSource) read(c logic.Condition) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, c.String()))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ParseBool(string(data))
}

// ParseBool accepts the usual strconv forms plus on/off and yes/no.
// An empty value reads as false.
func ParseBool(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "off", "no":
		return false, nil
	case "on", "yes":
		return true, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", s)
	}
	return v, nil
}
