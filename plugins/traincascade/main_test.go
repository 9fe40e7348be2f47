package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInfoFile(t *testing.T) {
	got := infoFile([]string{"/a/0000.png", "/a/0001.png"}, 24)
	want := "/a/0000.png 1 0 0 24 24\n/a/0001.png 1 0 0 24 24\n"
	if got != want {
		t.Errorf("infoFile() = %q, want %q", got, want)
	}
}

func TestTrainArgs(t *testing.T) {
	args := strings.Join(trainArgs("d", "v", "b", 7, 9, 24), " ")
	for _, want := range []string{"-numPos 7", "-numNeg 9", "-w 24", "-h 24", "-featureType HAAR", "-data d"} {
		if !strings.Contains(args, want) {
			t.Errorf("trainArgs() = %q, missing %q", args, want)
		}
	}
}

func TestListImages_SortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002.png", "0001.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := listImages(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || filepath.Base(got[0]) != "0001.png" || filepath.Base(got[1]) != "0002.png" {
		t.Errorf("listImages() = %v", got)
	}
}

func TestHandleTrain_RequiresSamples(t *testing.T) {
	raw, _ := json.Marshal(Params{WorkDir: t.TempDir(), PositiveDir: t.TempDir(), NegativeDir: t.TempDir(), SampleSize: 24})
	if _, err := handleTrain(raw); err == nil {
		t.Fatal("expected error with empty sample dirs")
	}
	if _, err := handleTrain(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error without work_dir")
	}
}
