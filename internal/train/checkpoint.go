package train

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultCheckpointPattern formats the 1-based epoch and the loss.
const DefaultCheckpointPattern = "weights-improvement-%02d-%.4f.gob"

// Saver persists the current weights.
type Saver interface {
	Save(path string) error
}

// CheckpointObserver saves the model whenever the epoch loss improves on
// every earlier epoch.
type CheckpointObserver struct {
	model   Saver
	dir     string
	pattern string
	best    float64
	last    string
	log     *logrus.Entry
}

func NewCheckpointObserver(model Saver, dir, pattern string, log *logrus.Entry) *CheckpointObserver {
	if pattern == "" {
		pattern = DefaultCheckpointPattern
	}
	return &CheckpointObserver{model: model, dir: dir, pattern: pattern, best: math.Inf(1), log: log}
}

// CheckpointName renders pattern for an epoch.
func CheckpointName(pattern string, epoch int, loss float64) string {
	return fmt.Sprintf(pattern, epoch, loss)
}

func (c *CheckpointObserver) EpochEnd(s EpochStats) error {
	if !(s.Loss < c.best) {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}
	path := filepath.Join(c.dir, CheckpointName(c.pattern, s.Epoch, s.Loss))
	if err := c.model.Save(path); err != nil {
		return errors.Wrap(err, "save checkpoint")
	}
	if c.log != nil {
		c.log.WithFields(logrus.Fields{"path": path, "loss": s.Loss, "previous": c.best}).Info("loss improved, checkpoint saved")
	}
	c.best = s.Loss
	c.last = path
	return nil
}

// Best returns the lowest loss seen and the checkpoint written for it.
func (c *CheckpointObserver) Best() (float64, string) {
	return c.best, c.last
}
