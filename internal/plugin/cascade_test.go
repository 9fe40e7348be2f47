package plugin

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ayusman/vistrain/internal/classifier"
)

func writeScript(t *testing.T, root, dir, script string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, dir, "run.sh"), []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestCascadeTrainer_ReadsResultFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	root := t.TempDir()
	writeManifest(t, root, "fake", `{"name":"fake","executable":"run.sh","tasks":["train-cascade"]}`)
	// the fake trainer writes its cascade into the work dir named in the request
	writeScript(t, root, "fake", "#!/bin/sh\n"+
		"req=$(cat)\n"+
		"dir=$(printf '%s' \"$req\" | sed 's/.*\"work_dir\":\"\\([^\"]*\\)\".*/\\1/')\n"+
		"echo '<opencv_storage/>' > \"$dir/cascade.xml\"\n"+
		"echo '{\"success\":true,\"data\":{\"cascade\":\"cascade.xml\"}}'\n")

	trainer := NewCascadeTrainer(NewManager(root, nil), NewExecutor(5000), "", nil)
	xml, err := trainer.TrainCascade(classifier.CascadeJob{WorkDir: t.TempDir(), Positives: 3, Negatives: 3, SampleSize: 24})
	if err != nil {
		t.Fatalf("TrainCascade() failed: %v", err)
	}
	if !bytes.Contains(xml, []byte("<opencv_storage/>")) {
		t.Errorf("unexpected cascade %q", xml)
	}
}

func TestCascadeTrainer_NoPlugin(t *testing.T) {
	trainer := NewCascadeTrainer(NewManager(t.TempDir(), nil), NewExecutor(5000), "", nil)
	if _, err := trainer.TrainCascade(classifier.CascadeJob{WorkDir: t.TempDir()}); err == nil {
		t.Fatal("expected error without a trainer plugin")
	}
}

func TestCascadeTrainer_FailureResponse(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	root := t.TempDir()
	writeManifest(t, root, "bad", `{"name":"bad","executable":"run.sh","tasks":["train-cascade"]}`)
	writeScript(t, root, "bad", "#!/bin/sh\ncat >/dev/null\necho '{\"success\":false,\"error\":\"too few samples\"}'\n")

	trainer := NewCascadeTrainer(NewManager(root, nil), NewExecutor(5000), "bad", nil)
	_, err := trainer.TrainCascade(classifier.CascadeJob{WorkDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "too few samples") {
		t.Fatalf("expected plugin error, got %v", err)
	}
}
