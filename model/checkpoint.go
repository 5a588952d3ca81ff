package model

import (
	"encoding/json"
	"math"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	// SummaryInterval is the number of steps between summaries.
	SummaryInterval = 100
	// CheckpointInterval is the number of steps between checkpoints.
	CheckpointInterval = 10000
)

// Checkpoint is the resumable training state: the global step and, optionally, the backbone
// weights file saved with it.
type Checkpoint struct {
	GlobalStep int64  `json:"global_step"`
	Weights    string `json:"weights,omitempty"`
}

// ReadCheckpoint loads a checkpoint. With retrain the step counter restarts at zero.
func ReadCheckpoint(path string, retrain bool) (*Checkpoint, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read checkpoint")
	}
	var ckpt Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, errors.Wrapf(err, "cannot parse checkpoint %q", path)
	}
	if ckpt.GlobalStep < 0 {
		return nil, errors.Errorf("checkpoint %q has a negative global step %d", path, ckpt.GlobalStep)
	}
	if retrain {
		ckpt.GlobalStep = 0
	}
	return &ckpt, nil
}

// Write saves the checkpoint as JSON.
func (c *Checkpoint) Write(path string) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(c)
}

// Schedule is the step arithmetic of a training run.
type Schedule struct {
	StepsPerEpoch int64
	TotalSteps    int64
	LearningRate  float64
}

// NewSchedule returns the schedule for numSamples samples seen numEpochs times in batches of
// batchSize.
func NewSchedule(numSamples, batchSize, numEpochs int, learningRate float64) (Schedule, error) {
	if numSamples <= 0 || batchSize <= 0 || numEpochs <= 0 {
		return Schedule{}, errors.Errorf("invalid schedule: %d samples, batch %d, %d epochs",
			numSamples, batchSize, numEpochs)
	}
	steps := int64(math.Ceil(float64(numSamples) / float64(batchSize)))
	return Schedule{
		StepsPerEpoch: steps,
		TotalSteps:    steps * int64(numEpochs),
		LearningRate:  learningRate,
	}, nil
}

// RateAt is piecewise constant: the base rate until 3/5 of the run, half of it until 4/5, then a
// quarter.
func (s Schedule) RateAt(step int64) float64 {
	first := int64(float64(s.TotalSteps) * 3 / 5)
	second := int64(float64(s.TotalSteps) * 4 / 5)
	switch {
	case step <= first:
		return s.LearningRate
	case step <= second:
		return s.LearningRate / 2
	default:
		return s.LearningRate / 4
	}
}

// ShouldSummarize reports whether summaries are due after step.
func ShouldSummarize(step int64) bool {
	return step != 0 && step%SummaryInterval == 0
}

// ShouldCheckpoint reports whether a checkpoint is due after step.
func ShouldCheckpoint(step int64) bool {
	return step != 0 && step%CheckpointInterval == 0
}
