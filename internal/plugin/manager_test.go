package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, root, dir, body string) {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("failed to create plugin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "plugin.json"), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

func TestManager_Discover(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "traincascade", `{
		// comments and trailing commas are allowed
		"name": "traincascade",
		"version": "1.0.0",
		"executable": "traincascade",
		"tasks": ["train-cascade"],
	}`)
	writeManifest(t, root, "other", `{"name":"other","executable":"other","tasks":["noop"]}`)
	writeManifest(t, root, "broken", `{"name":`)
	writeManifest(t, root, "unnamed", `{"executable":"x"}`)
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0755); err != nil {
		t.Fatal(err)
	}

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() failed: %v", err)
	}

	plugins := m.List()
	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Manifest.Name != "other" || plugins[1].Manifest.Name != "traincascade" {
		t.Errorf("expected plugins sorted by name, got %s, %s", plugins[0].Manifest.Name, plugins[1].Manifest.Name)
	}

	p, err := m.Get("traincascade")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if p.Executable != filepath.Join(root, "traincascade", "traincascade") {
		t.Errorf("unexpected executable %s", p.Executable)
	}
	if p.Path != filepath.Join(root, "traincascade") {
		t.Errorf("unexpected path %s", p.Path)
	}
}

func TestManager_ForTask(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "b", `{"name":"b","executable":"b","tasks":["train-cascade"]}`)
	writeManifest(t, root, "a", `{"name":"a","executable":"a","tasks":["train-cascade","noop"]}`)

	m := NewManager(root, nil)
	if err := m.Discover(); err != nil {
		t.Fatal(err)
	}
	p, err := m.ForTask(TaskTrainCascade)
	if err != nil {
		t.Fatalf("ForTask() failed: %v", err)
	}
	if p.Manifest.Name != "a" {
		t.Errorf("expected first plugin by name, got %s", p.Manifest.Name)
	}
	if _, err := m.ForTask("missing"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestManager_Get_NotFound(t *testing.T) {
	m := NewManager(t.TempDir(), nil)
	if _, err := m.Get("nope"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
}

func TestManager_Discover_NonExistentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	m := NewManager(dir, nil)
	if err := m.Discover(); err != nil {
		t.Fatalf("Discover() on a missing dir should succeed, got %v", err)
	}
	if len(m.List()) != 0 {
		t.Error("expected no plugins")
	}
	if m.PluginDir() != dir {
		t.Errorf("expected plugin dir %s, got %s", dir, m.PluginDir())
	}
}
