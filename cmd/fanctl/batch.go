package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Batch is the on-disk format for a run submission.
type Batch struct {
	Runner      string      `yaml:"runner"`
	Concurrency int         `yaml:"concurrency"`
	Serial      bool        `yaml:"serial"`
	Tasks       []BatchTask `yaml:"tasks"`
}

// BatchTask is one task entry in a batch file.
type BatchTask struct {
	ID      string `yaml:"id"`
	Payload string `yaml:"payload"`
}

// LoadBatch reads and validates a YAML batch file.
func LoadBatch(path string) (*Batch, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var batch Batch
	if err := yaml.Unmarshal(raw, &batch); err != nil {
		return nil, fmt.Errorf("failed to parse batch file: %w", err)
	}

	if len(batch.Tasks) == 0 {
		return nil, fmt.Errorf("batch file %s contains no tasks", path)
	}
	seen := make(map[string]bool, len(batch.Tasks))
	for i, task := range batch.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("task %d is missing an id", i)
		}
		if seen[task.ID] {
			return nil, fmt.Errorf("duplicate task id: %s", task.ID)
		}
		seen[task.ID] = true
	}
	if batch.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must not be negative")
	}

	return &batch, nil
}
