package classifier

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/vistrain/internal/config"
)

// ErrNotFound is returned for unknown classifier ids.
var ErrNotFound = errors.New("classifier not found")

// Library owns the classifiers saved under one root directory.
type Library struct {
	root string
	cfg  *config.Config
	deps Deps
	log  logs.Log

	mu    sync.RWMutex
	items []*Classifier
}

func NewLibrary(root string, cfg *config.Config, deps Deps) *Library {
	return &Library{root: root, cfg: cfg, deps: deps, log: deps.Log}
}

// Root returns the directory classifiers are saved under.
func (l *Library) Root() string { return l.root }

// LoadAll loads every classifier directory under the root. Directories that
// fail to load are logged and skipped.
func (l *Library) LoadAll() (int, error) {
	entries, err := os.ReadDir(l.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, persistErr("list classifiers", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	loaded := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		c, err := Load(filepath.Join(l.root, e.Name()), l.cfg, l.deps)
		if err != nil {
			if l.log != nil {
				l.log.Warnf("Skipping classifier %s: %v", e.Name(), err)
			}
			continue
		}
		l.items = append(l.items, c)
		loaded++
	}
	return loaded, nil
}

// Create adds a new untrained classifier. It is not saved until Save is called.
func (l *Library) Create(variant Variant) (*Classifier, error) {
	c, err := New(variant, l.cfg, l.deps)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.items = append(l.items, c)
	l.mu.Unlock()
	return c, nil
}

// Get returns the classifier with the given id.
func (l *Library) Get(id string) (*Classifier, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.items {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// List returns the classifiers in creation order.
func (l *Library) List() []*Classifier {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*Classifier(nil), l.items...)
}

// Save writes the classifier into its directory under the root.
func (l *Library) Save(id string) error {
	c, err := l.Get(id)
	if err != nil {
		return err
	}
	return c.Save(filepath.Join(l.root, DirName(c.Variant(), c.ID())))
}

// Delete removes the classifier from the library and from disk and
// releases it. Callers must stop using it first.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	var c *Classifier
	for i, item := range l.items {
		if item.ID() == id {
			c = item
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.mu.Unlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	err := c.DeleteFromDisk()
	c.Close()
	return err
}

// Close releases every classifier.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.items {
		c.Close()
	}
	l.items = nil
}
