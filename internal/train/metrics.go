package train

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
)

type Metrics struct {
	Epochs []EpochMetrics `json:"epochs"`
}

type EpochMetrics struct {
	Epoch      int     `json:"epoch"`
	Loss       float64 `json:"loss"`
	Perplexity float64 `json:"perplexity"`
	Seconds    float64 `json:"seconds"`
}

// MetricsObserver rewrites a metrics JSON file after every epoch.
type MetricsObserver struct {
	path    string
	metrics Metrics
}

func NewMetricsObserver(path string) *MetricsObserver {
	return &MetricsObserver{path: path}
}

func (o *MetricsObserver) EpochEnd(s EpochStats) error {
	o.metrics.Epochs = append(o.metrics.Epochs, EpochMetrics{
		Epoch:      s.Epoch,
		Loss:       s.Loss,
		Perplexity: s.Perplexity(),
		Seconds:    s.Duration.Seconds(),
	})
	return errors.Wrap(SaveJSON(o.path, o.metrics), "save metrics")
}

// Manifest records how a training run was set up.
type Manifest struct {
	RunID       string    `json:"run_id"`
	CorpusPath  string    `json:"corpus_path"`
	CorpusHash  string    `json:"corpus_hash"`
	CorpusRunes int       `json:"corpus_runes"`
	VocabSize   int       `json:"vocab_size"`
	Window      int       `json:"window"`
	Hidden      int       `json:"hidden"`
	Layers      int       `json:"layers"`
	Dropout     float64   `json:"dropout"`
	LearnRate   float64   `json:"learning_rate"`
	Epochs      int       `json:"epochs"`
	BatchSize   int       `json:"batch_size"`
	Seed        int64     `json:"seed"`
	CPU         string    `json:"cpu"`
	Cores       int       `json:"cores"`
	StartedAt   time.Time `json:"started_at"`
}

// NewManifest fills the run id, host and start time.
func NewManifest() Manifest {
	return Manifest{
		RunID:     uuid.New().String(),
		CPU:       cpuid.CPU.BrandName,
		Cores:     cpuid.CPU.PhysicalCores,
		StartedAt: time.Now().UTC(),
	}
}

// SaveJSON writes v to path as indented JSON, replacing the file.
func SaveJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	return errors.Wrapf(os.WriteFile(path, append(b, '\n'), 0o644), "write %s", path)
}
