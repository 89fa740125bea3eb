// Package template loads page templates from a directory and fills
// in ${name} placeholders.
//
// File contents are cached; a filesystem watcher drops cached entries
// when the file is written, removed or renamed.  If the watcher cannot
// be created the store falls back to reading from disk every time.
package template

import (
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"autologin/util"
)

var unsafePath = regexp.MustCompile(`[^a-zA-Z0-9./-]|\.\.`)

// Sanitize replaces every character outside [A-Za-z0-9./-] and every
// ".." with "_".
func Sanitize(path string) string {
	return unsafePath.ReplaceAllString(path, "_")
}

// Vars maps placeholder names to value producers.  A producer is only
// invoked when its placeholder occurs in the template.
type Vars map[string]func() string

// Store reads templates below a root directory.
type Store struct {
	root   string
	logger *util.Logger

	mu      sync.RWMutex
	cache   map[string]string
	gen     uint64 // bumped on every invalidation
	watcher *fsnotify.Watcher
	watched map[string]bool
	stop    chan struct{}
	once    sync.Once

	afterRead func(path string) // test hook, runs between read and store
}

// NewStore creates a Store rooted at dir.
func NewStore(dir string, logger *util.Logger) *Store {
	s := &Store{
		root:    dir,
		logger:  logger,
		cache:   make(map[string]string),
		watched: make(map[string]bool),
		stop:    make(chan struct{}),
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("template cache disabled: %v", err)
		return s
	}
	s.watcher = w
	go s.watch()
	return s
}

// Root returns the template directory.
func (s *Store) Root() string { return s.root }

// Close stops the watcher.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		if s.watcher != nil {
			err = s.watcher.Close()
		}
	})
	return err
}

// Load reads the template at name (relative to the root) and
// substitutes vars.  ok is false when the file cannot be read.
func (s *Store) Load(name string, vars Vars) (string, bool) {
	path := filepath.Join(s.root, filepath.FromSlash(name))

	raw, ok := s.read(path)
	if !ok {
		return "", false
	}
	return Expand(raw, vars), true
}

// Expand replaces each ${key} in text with the output of vars[key].
func Expand(text string, vars Vars) string {
	for key, produce := range vars {
		placeholder := "${" + key + "}"
		if !strings.Contains(text, placeholder) {
			continue
		}
		text = strings.ReplaceAll(text, placeholder, produce())
	}
	return text
}

// ContentType guesses the media type of a template from its extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "text/html; charset=utf-8"
}

func (s *Store) read(path string) (string, bool) {
	cacheable := false
	var gen uint64
	if s.watcher != nil {
		s.mu.RLock()
		raw, hit := s.cache[path]
		s.mu.RUnlock()
		if hit {
			return raw, true
		}
		// Watch before reading so a change during the read is seen.
		cacheable = s.watchDir(filepath.Dir(path))
		s.mu.RLock()
		gen = s.gen
		s.mu.RUnlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("template %s: %v", path, err)
		return "", false
	}
	raw := string(data)
	if s.afterRead != nil {
		s.afterRead(path)
	}

	if cacheable {
		s.mu.Lock()
		if s.gen == gen {
			s.cache[path] = raw
		}
		s.mu.Unlock()
	}
	return raw, true
}

// watchDir makes sure dir is watched.  Entries are only cached for
// watched directories so a stale copy can never be served.
func (s *Store) watchDir(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watched[dir] {
		return true
	}
	if err := s.watcher.Add(dir); err != nil {
		s.logger.Warn("template watcher: %s: %v", dir, err)
		return false
	}
	s.watched[dir] = true
	return true
}

func (s *Store) watch() {
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			s.invalidate(ev.Name)
			s.logger.Debug("template %s changed, dropped from cache", ev.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("template watcher: %v", err)
		}
	}
}

// invalidate drops path from the cache.  Reads that started before the
// call will not store what they read.
func (s *Store) invalidate(path string) {
	s.mu.Lock()
	s.gen++
	delete(s.cache, path)
	s.mu.Unlock()
}

// cached reports whether path is currently cached.
func (s *Store) cached(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[path]
	return ok
}
