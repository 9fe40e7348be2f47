// Package main is the cascade trainer plugin. It turns a directory of
// positive crops and a directory of negative images into a Haar cascade
// with OpenCV's createsamples and traincascade tools.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Request represents the input from the plugin executor.
type Request struct {
	Task   string          `json:"task"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Params mirrors the train-cascade request payload.
type Params struct {
	WorkDir     string `json:"work_dir"`
	PositiveDir string `json:"positive_dir"`
	NegativeDir string `json:"negative_dir"`
	Positives   int    `json:"positives"`
	Negatives   int    `json:"negatives"`
	SampleSize  int    `json:"sample_size"`
}

const numStages = 10

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	switch req.Task {
	case "train-cascade":
		cascade, err := handleTrain(req.Params)
		if err != nil {
			writeErrorResponse(fmt.Sprintf("task %s failed: %v", req.Task, err))
			return
		}
		data, _ := json.Marshal(map[string]string{"cascade": cascade})
		writeSuccessResponse(data)
	default:
		writeErrorResponse(fmt.Sprintf("unknown task: %s", req.Task))
	}
}

func handleTrain(raw json.RawMessage) (string, error) {
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("failed to parse params: %w", err)
	}
	if p.WorkDir == "" || p.SampleSize <= 0 {
		return "", fmt.Errorf("work_dir and sample_size are required")
	}

	positives, err := listImages(p.PositiveDir)
	if err != nil {
		return "", err
	}
	negatives, err := listImages(p.NegativeDir)
	if err != nil {
		return "", err
	}
	if len(positives) == 0 || len(negatives) == 0 {
		return "", fmt.Errorf("need positive and negative images, have %d and %d", len(positives), len(negatives))
	}

	info := filepath.Join(p.WorkDir, "positives.info")
	if err := os.WriteFile(info, []byte(infoFile(positives, p.SampleSize)), 0644); err != nil {
		return "", err
	}
	bg := filepath.Join(p.WorkDir, "negatives.txt")
	if err := os.WriteFile(bg, []byte(strings.Join(negatives, "\n")+"\n"), 0644); err != nil {
		return "", err
	}
	vec := filepath.Join(p.WorkDir, "positives.vec")
	data := filepath.Join(p.WorkDir, "cascade")
	if err := os.MkdirAll(data, 0755); err != nil {
		return "", err
	}

	if err := run("opencv_createsamples", createSamplesArgs(info, vec, len(positives), p.SampleSize)...); err != nil {
		return "", err
	}
	if err := run("opencv_traincascade", trainArgs(data, vec, bg, len(positives), len(negatives), p.SampleSize)...); err != nil {
		return "", err
	}
	return filepath.Join("cascade", "cascade.xml"), nil
}

// listImages returns the absolute paths of the PNG files in dir, sorted.
func listImages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	if err != nil {
		return nil, err
	}
	for i, m := range matches {
		if abs, err := filepath.Abs(m); err == nil {
			matches[i] = abs
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// infoFile lists each positive crop as one object covering the whole image.
func infoFile(positives []string, size int) string {
	var b strings.Builder
	for _, p := range positives {
		fmt.Fprintf(&b, "%s 1 0 0 %d %d\n", p, size, size)
	}
	return b.String()
}

func createSamplesArgs(info, vec string, num, size int) []string {
	return []string{
		"-info", info,
		"-vec", vec,
		"-num", strconv.Itoa(num),
		"-w", strconv.Itoa(size),
		"-h", strconv.Itoa(size),
	}
}

func trainArgs(data, vec, bg string, numPos, numNeg, size int) []string {
	return []string{
		"-data", data,
		"-vec", vec,
		"-bg", bg,
		"-numPos", strconv.Itoa(numPos),
		"-numNeg", strconv.Itoa(numNeg),
		"-numStages", strconv.Itoa(numStages),
		"-featureType", "HAAR",
		"-w", strconv.Itoa(size),
		"-h", strconv.Itoa(size),
	}
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data json.RawMessage) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: data})
}

// run executes an OpenCV tool, keeping its output for error reports.
func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, string(output))
	}
	return nil
}
