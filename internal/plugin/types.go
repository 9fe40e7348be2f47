// Package plugin discovers and runs external helper tools. A plugin is a
// directory with a plugin.json manifest and an executable that reads one
// JSON request on stdin and writes one JSON response on stdout.
package plugin

import "encoding/json"

// Manifest describes a plugin's metadata and the tasks it can perform.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Tasks       []string `json:"tasks"`
}

// Supports reports whether the plugin declares task.
func (m Manifest) Supports(task string) bool {
	for _, t := range m.Tasks {
		if t == task {
			return true
		}
	}
	return false
}

// Request is sent to a plugin on stdin.
type Request struct {
	Task   string          `json:"task"`
	Params json.RawMessage `json:"params"`
}

// Response is read from a plugin's stdout.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Plugin is a discovered plugin with its manifest and location.
type Plugin struct {
	Manifest   Manifest
	Path       string
	Executable string
}
