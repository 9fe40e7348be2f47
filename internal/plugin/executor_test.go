package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// scriptPlugin writes a shell script plugin into a temp dir.
func scriptPlugin(t *testing.T, script string) *Plugin {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Plugin{
		Manifest:   Manifest{Name: "test-plugin", Executable: "run.sh", Tasks: []string{"echo"}},
		Path:       dir,
		Executable: path,
	}
}

func TestExecutor_Execute(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\necho '{\"success\":true,\"data\":{\"message\":\"hello world\"}}'\n")
	response, err := NewExecutor(5000).Execute(context.Background(), p, &Request{Task: "echo"})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !response.Success {
		t.Errorf("expected success=true, got false")
	}

	var data map[string]string
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "hello world" {
		t.Errorf("expected message 'hello world', got %v", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	// echo the request back as the response data
	p := scriptPlugin(t, "req=$(cat)\nprintf '{\"success\":true,\"data\":%s}' \"$req\"\n")
	req := &Request{Task: "echo", Params: json.RawMessage(`{"work_dir":"/tmp/x"}`)}
	response, err := NewExecutor(5000).Execute(context.Background(), p, req)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var echoed Request
	if err := json.Unmarshal(response.Data, &echoed); err != nil {
		t.Fatalf("failed to unmarshal echoed request: %v", err)
	}
	if echoed.Task != "echo" {
		t.Errorf("expected task 'echo', got %q", echoed.Task)
	}
	if string(echoed.Params) != `{"work_dir":"/tmp/x"}` {
		t.Errorf("unexpected params %s", echoed.Params)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	p := scriptPlugin(t, "sleep 10\n")
	_, err := NewExecutor(100).Execute(context.Background(), p, &Request{Task: "echo"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestExecutor_ErrorResponse(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\necho '{\"success\":false,\"error\":\"opencv_traincascade not found\"}'\n")
	response, err := NewExecutor(5000).Execute(context.Background(), p, &Request{Task: "echo"})
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if response.Success {
		t.Error("expected success=false")
	}
	if response.Error != "opencv_traincascade not found" {
		t.Errorf("unexpected error %q", response.Error)
	}
}

func TestExecutor_InvalidJSON(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\necho 'not json'\n")
	_, err := NewExecutor(5000).Execute(context.Background(), p, &Request{Task: "echo"})
	if err == nil || !strings.Contains(err.Error(), "failed to parse plugin response") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestExecutor_NonZeroExit(t *testing.T) {
	p := scriptPlugin(t, "cat >/dev/null\necho 'boom' >&2\nexit 3\n")
	_, err := NewExecutor(5000).Execute(context.Background(), p, &Request{Task: "echo"})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestExecutor_CancelledContext(t *testing.T) {
	p := scriptPlugin(t, "sleep 10\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewExecutor(5000).Execute(ctx, p, &Request{Task: "echo"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
