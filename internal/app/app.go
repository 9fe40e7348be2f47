// Package app binds the vistrain components together: the sqlite catalog,
// the classifier library and its training sets, the frame pipeline and the
// external trainer plugins.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/vistrain/internal/blob"
	"github.com/ayusman/vistrain/internal/capture"
	"github.com/ayusman/vistrain/internal/classifier"
	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/features"
	"github.com/ayusman/vistrain/internal/pipeline"
	"github.com/ayusman/vistrain/internal/plugin"
	"github.com/ayusman/vistrain/internal/store"
	"github.com/ayusman/vistrain/internal/training"
)

// Paths under the data directory.
const (
	DatabaseFile  = "vistrain.db"
	ClassifierDir = "classifiers"
)

// Config holds configuration options for the application.
type Config struct {
	Settings *config.Config
	DataDir  string
	// PluginDir overrides Settings.Appearance.PluginDir.
	PluginDir string
	Log       logs.Log

	// Optional overrides, mostly for tests.
	NewDetector  func() blob.Detector
	NewExtractor func() features.Extractor
}

// App owns every long-lived component of a vistrain process.
type App struct {
	cfg      *config.Config
	log      logs.Log
	dataDir  string
	store    *store.Store
	library  *classifier.Library
	pipeline *pipeline.Pipeline
	plugins  *plugin.Manager

	mu   sync.Mutex
	sets map[string]*training.Set
}

// New opens the catalog under DataDir, discovers trainer plugins and loads
// every saved classifier.
func New(c Config) (*App, error) {
	if c.Settings == nil {
		c.Settings = config.Default()
	}
	if c.Log == nil {
		return nil, errors.New("app: a logger is required")
	}
	if err := os.MkdirAll(filepath.Join(c.DataDir, ClassifierDir), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := store.New(filepath.Join(c.DataDir, DatabaseFile))
	if err != nil {
		return nil, err
	}

	pluginDir := c.PluginDir
	if pluginDir == "" {
		pluginDir = c.Settings.Appearance.PluginDir
	}
	plugins := plugin.NewManager(pluginDir, c.Log)
	if err := plugins.Discover(); err != nil {
		c.Log.Warnf("Plugin discovery in %s failed: %v", pluginDir, err)
	}
	cascade := plugin.NewCascadeTrainer(plugins, plugin.NewExecutor(c.Settings.Appearance.TimeoutMs), c.Settings.Appearance.TrainerPlugin, c.Log)

	deps := classifier.Deps{
		Log:          c.Log,
		NewExtractor: c.NewExtractor,
		Cascade:      cascade,
	}
	a := &App{
		cfg:      c.Settings,
		log:      c.Log,
		dataDir:  c.DataDir,
		store:    db,
		library:  classifier.NewLibrary(filepath.Join(c.DataDir, ClassifierDir), c.Settings, deps),
		pipeline: pipeline.New(c.Settings, c.Log, pipeline.Options{NewDetector: c.NewDetector}),
		plugins:  plugins,
		sets:     make(map[string]*training.Set),
	}

	n, err := a.library.LoadAll()
	if err != nil {
		a.Close()
		return nil, err
	}
	for _, cl := range a.library.List() {
		if err := a.syncCatalog(cl); err != nil {
			a.log.Warnf("Cataloguing classifier %s: %v", cl.ID(), err)
		}
	}
	a.log.Infof("Loaded %d classifiers from %s", n, a.library.Root())
	return a, nil
}

func (a *App) Settings() *config.Config      { return a.cfg }
func (a *App) Store() *store.Store            { return a.store }
func (a *App) Library() *classifier.Library   { return a.library }
func (a *App) Pipeline() *pipeline.Pipeline   { return a.pipeline }
func (a *App) PluginManager() *plugin.Manager { return a.plugins }
func (a *App) Log() logs.Log                  { return a.log }

// Start begins processing src.
func (a *App) Start(src capture.Source) error {
	return a.pipeline.StartProcessing(src)
}

// Stop halts processing and waits for the current frame to finish.
func (a *App) Stop() error {
	return a.pipeline.StopProcessing()
}

// AddOutput registers a sink with the pipeline.
func (a *App) AddOutput(o pipeline.OutputSink) bool {
	return a.pipeline.AddActiveOutput(o)
}

// CreateClassifier adds a new untrained classifier. An empty name keeps
// the variant's display name.
func (a *App) CreateClassifier(variant classifier.Variant, name string) (*classifier.Classifier, error) {
	c, err := a.library.Create(variant)
	if err != nil {
		return nil, err
	}
	if name != "" {
		c.SetName(name)
	}
	if err := a.syncCatalog(c); err != nil {
		a.library.Delete(c.ID())
		return nil, err
	}
	a.log.Infof("Created %s classifier %s (%s)", variant, c.Name(), c.ID())
	return c, nil
}

func (a *App) Classifier(id string) (*classifier.Classifier, error) {
	return a.library.Get(id)
}

// SaveClassifier writes the classifier to its directory and records it in the catalog.
func (a *App) SaveClassifier(id string) error {
	c, err := a.library.Get(id)
	if err != nil {
		return err
	}
	if err := a.library.Save(id); err != nil {
		return err
	}
	return a.syncCatalog(c)
}

// UpdateClassifier renames the classifier and sets its threshold. Classifiers
// already on disk are saved again.
func (a *App) UpdateClassifier(id, name string, threshold *float64) error {
	c, err := a.library.Get(id)
	if err != nil {
		return err
	}
	if name != "" {
		c.SetName(name)
	}
	if threshold != nil {
		c.SetThreshold(*threshold)
	}
	if c.IsOnDisk() {
		return a.SaveClassifier(id)
	}
	return a.syncCatalog(c)
}

// DeleteClassifier removes the classifier from the chain, the disk and the
// catalog, and drops its samples.
func (a *App) DeleteClassifier(id string) error {
	c, err := a.library.Get(id)
	if err != nil {
		return err
	}
	a.pipeline.RemoveActiveFilter(c)
	if err := a.library.Delete(id); err != nil {
		return err
	}
	if err := a.store.Classifiers().Delete(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	a.mu.Lock()
	if set, ok := a.sets[id]; ok {
		set.Close()
		delete(a.sets, id)
	}
	a.mu.Unlock()
	a.log.Infof("Deleted classifier %s", id)
	return nil
}

// Activate appends the classifier to the pipeline chain.
func (a *App) Activate(id string) (bool, error) {
	c, err := a.library.Get(id)
	if err != nil {
		return false, err
	}
	return a.pipeline.AddActiveFilter(c), nil
}

// Deactivate removes the classifier from the pipeline chain.
func (a *App) Deactivate(id string) (bool, error) {
	c, err := a.library.Get(id)
	if err != nil {
		return false, err
	}
	return a.pipeline.RemoveActiveFilter(c), nil
}

// Train trains the classifier from its stored samples.
func (a *App) Train(id string) error {
	c, err := a.library.Get(id)
	if err != nil {
		return err
	}
	set, err := a.trainingSet(id)
	if err != nil {
		return err
	}
	counts := set.Counts()
	a.log.Infof("Training %s on %d positive, %d negative, %d range samples", c.Name(), counts.Positive, counts.Negative, counts.Range)
	if err := c.Train(set); err != nil {
		return err
	}
	return a.syncCatalog(c)
}

// Status summarizes the pipeline for the status endpoint and the tray.
type Status struct {
	Pipeline    pipeline.Stats
	Filters     []string
	Outputs     []string
	Classifiers int
}

func (a *App) Status() Status {
	return Status{
		Pipeline:    a.pipeline.Stats(),
		Filters:     a.pipeline.ActiveFilters(),
		Outputs:     a.pipeline.ActiveOutputs(),
		Classifiers: len(a.library.List()),
	}
}

// Close stops the pipeline and releases everything the app owns.
func (a *App) Close() {
	a.pipeline.Close()
	a.mu.Lock()
	for id, set := range a.sets {
		set.Close()
		delete(a.sets, id)
	}
	a.mu.Unlock()
	a.library.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warnf("Closing store: %v", err)
	}
}

// syncCatalog writes the classifier's current state to the catalog.
func (a *App) syncCatalog(c *classifier.Classifier) error {
	return a.store.Classifiers().Upsert(&store.Classifier{
		ID:        c.ID(),
		Name:      c.Name(),
		Variant:   c.Variant().String(),
		Dir:       c.Dir(),
		Threshold: c.Threshold(),
		Trained:   c.IsTrained(),
	})
}
