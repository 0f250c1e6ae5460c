// Package train fits a model over the windowed corpus and reports every
// epoch to registered observers.
package train

import (
	"io"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"textgen/internal/dataset"
)

// Trainer is the part of the model the driver needs.
type Trainer interface {
	TrainBatch(b dataset.Batch) (float64, error)
}

// EpochStats describes a finished epoch. Epoch is 1-based.
type EpochStats struct {
	Epoch    int
	Loss     float64
	Batches  int
	Samples  int
	Duration time.Duration
}

// Perplexity is exp(loss).
func (s EpochStats) Perplexity() float64 {
	return math.Exp(s.Loss)
}

// Observer is called at every epoch boundary. A non-nil error stops
// training and is returned by Run.
type Observer interface {
	EpochEnd(EpochStats) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(EpochStats) error

func (f ObserverFunc) EpochEnd(s EpochStats) error { return f(s) }

// Config holds the fit settings.
type Config struct {
	Epochs    int
	BatchSize int
	Seed      int64
}

// Driver runs the epochs.
type Driver struct {
	cfg       Config
	log       *logrus.Entry
	observers []Observer
}

// NewDriver returns a driver. A nil log discards output.
func NewDriver(cfg Config, log *logrus.Entry, observers ...Observer) *Driver {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Driver{cfg: cfg, log: log, observers: observers}
}

// Observe registers another observer.
func (d *Driver) Observe(o Observer) {
	d.observers = append(d.observers, o)
}

// Run trains m on samples for the configured number of epochs and returns
// the per-epoch statistics.
func (d *Driver) Run(m Trainer, samples []dataset.Sample, vocab int) ([]EpochStats, error) {
	if d.cfg.Epochs < 1 || d.cfg.BatchSize < 1 {
		return nil, errors.Errorf("invalid fit settings: epochs=%d batch=%d", d.cfg.Epochs, d.cfg.BatchSize)
	}
	if len(samples) == 0 {
		return nil, errors.New("no training samples; corpus shorter than window?")
	}

	rng := rand.New(rand.NewSource(d.cfg.Seed))
	order := append([]dataset.Sample(nil), samples...)
	d.log.WithFields(logrus.Fields{
		"samples": len(order),
		"epochs":  d.cfg.Epochs,
		"batch":   d.cfg.BatchSize,
	}).Info("starting training")

	history := make([]EpochStats, 0, d.cfg.Epochs)
	for epoch := 1; epoch <= d.cfg.Epochs; epoch++ {
		start := time.Now()
		dataset.Shuffle(order, rng)
		batches := dataset.Batches(order, d.cfg.BatchSize, vocab)

		losses := make([]float64, len(batches))
		weights := make([]float64, len(batches))
		for i, b := range batches {
			loss, err := m.TrainBatch(b)
			if err != nil {
				return history, errors.Wrapf(err, "epoch %d batch %d", epoch, i)
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return history, errors.Errorf("epoch %d batch %d: loss is %v", epoch, i, loss)
			}
			losses[i] = loss
			weights[i] = float64(b.Size)
			d.log.WithFields(logrus.Fields{"epoch": epoch, "batch": i, "loss": loss}).Debug("batch done")
		}

		st := EpochStats{
			Epoch:    epoch,
			Loss:     stat.Mean(losses, weights),
			Batches:  len(batches),
			Samples:  len(order),
			Duration: time.Since(start),
		}
		history = append(history, st)
		d.log.WithFields(logrus.Fields{
			"epoch":      epoch,
			"loss":       st.Loss,
			"perplexity": st.Perplexity(),
			"duration":   st.Duration.Round(time.Millisecond),
		}).Info("epoch done")

		for _, o := range d.observers {
			if err := o.EpochEnd(st); err != nil {
				return history, errors.Wrapf(err, "epoch %d observer", epoch)
			}
		}
	}
	return history, nil
}
