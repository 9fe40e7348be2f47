package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"

	"github.com/ayusman/vistrain/internal/classifier"
)

// TaskTrainCascade is the task name of cascade trainers.
const TaskTrainCascade = "train-cascade"

// CascadeParams is the payload of a train-cascade request.
type CascadeParams struct {
	WorkDir     string `json:"work_dir"`
	PositiveDir string `json:"positive_dir"`
	NegativeDir string `json:"negative_dir"`
	Positives   int    `json:"positives"`
	Negatives   int    `json:"negatives"`
	SampleSize  int    `json:"sample_size"`
}

// CascadeResult is the payload of a successful train-cascade response.
type CascadeResult struct {
	// Cascade is the path of the trained cascade XML, relative to WorkDir
	// unless absolute.
	Cascade string `json:"cascade"`
}

// CascadeTrainer trains appearance classifiers through a plugin.
type CascadeTrainer struct {
	manager  *Manager
	executor *Executor
	name     string
	log      logs.Log
}

// NewCascadeTrainer uses the plugin called name, or any plugin declaring
// the train-cascade task when name is empty.
func NewCascadeTrainer(manager *Manager, executor *Executor, name string, log logs.Log) *CascadeTrainer {
	return &CascadeTrainer{manager: manager, executor: executor, name: name, log: log}
}

func (t *CascadeTrainer) find() (*Plugin, error) {
	lookup := func() (*Plugin, error) {
		if t.name != "" {
			return t.manager.Get(t.name)
		}
		return t.manager.ForTask(TaskTrainCascade)
	}
	p, err := lookup()
	if errors.Is(err, ErrPluginNotFound) {
		if derr := t.manager.Discover(); derr != nil {
			return nil, derr
		}
		p, err = lookup()
	}
	return p, err
}

// TrainCascade runs the plugin on a prepared job and returns the cascade XML.
func (t *CascadeTrainer) TrainCascade(job classifier.CascadeJob) ([]byte, error) {
	p, err := t.find()
	if err != nil {
		return nil, err
	}

	params, err := json.Marshal(CascadeParams{
		WorkDir:     job.WorkDir,
		PositiveDir: job.PositiveDir,
		NegativeDir: job.NegativeDir,
		Positives:   job.Positives,
		Negatives:   job.Negatives,
		SampleSize:  job.SampleSize,
	})
	if err != nil {
		return nil, err
	}

	if t.log != nil {
		t.log.Infof("Training cascade with plugin %s on %d positives, %d negatives", p.Manifest.Name, job.Positives, job.Negatives)
	}
	resp, err := t.executor.Execute(context.Background(), p, &Request{Task: TaskTrainCascade, Params: params})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("plugin %s: %s", p.Manifest.Name, resp.Error)
	}

	var result CascadeResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse cascade result: %w", err)
	}
	if result.Cascade == "" {
		return nil, fmt.Errorf("plugin %s returned no cascade", p.Manifest.Name)
	}
	path := result.Cascade
	if !filepath.IsAbs(path) {
		path = filepath.Join(job.WorkDir, path)
	}
	return os.ReadFile(path)
}
