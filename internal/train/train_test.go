package train

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"textgen/internal/dataset"
)

// scriptedTrainer returns losses from a list, one per epoch.
type scriptedTrainer struct {
	epochLoss []float64
	perBatch  int
	calls     int
	rows      int
}

func (s *scriptedTrainer) TrainBatch(b dataset.Batch) (float64, error) {
	epoch := s.calls / s.perBatch
	s.calls++
	s.rows += b.Size
	return s.epochLoss[epoch], nil
}

type fileSaver struct{ saved []string }

func (f *fileSaver) Save(path string) error {
	f.saved = append(f.saved, filepath.Base(path))
	return os.WriteFile(path, []byte("weights"), 0o644)
}

func samples(n, w int) []dataset.Sample {
	ids := make([]int, n+w)
	for i := range ids {
		ids[i] = i % 4
	}
	return dataset.Windows(ids, w)
}

func TestDriverRunsEveryEpoch(t *testing.T) {
	tr := &scriptedTrainer{epochLoss: []float64{2.5, 2.0, 2.2}, perBatch: 3}
	var seen []EpochStats
	d := NewDriver(Config{Epochs: 3, BatchSize: 4, Seed: 1}, nil, ObserverFunc(func(s EpochStats) error {
		seen = append(seen, s)
		return nil
	}))

	history, err := d.Run(tr, samples(10, 3), 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 || len(seen) != 3 {
		t.Fatalf("history %d, observed %d, want 3", len(history), len(seen))
	}
	if tr.rows != 30 {
		t.Fatalf("trained on %d rows, want 30", tr.rows)
	}
	for i, s := range seen {
		if s.Epoch != i+1 {
			t.Fatalf("epoch numbering: %d at position %d", s.Epoch, i)
		}
		if math.Abs(s.Loss-tr.epochLoss[i]) > 1e-9 {
			t.Fatalf("epoch %d loss %v, want %v", s.Epoch, s.Loss, tr.epochLoss[i])
		}
		if s.Batches != 3 || s.Samples != 10 {
			t.Fatalf("epoch %d: %d batches, %d samples", s.Epoch, s.Batches, s.Samples)
		}
	}
}

func TestDriverObserverErrorAborts(t *testing.T) {
	tr := &scriptedTrainer{epochLoss: []float64{1, 1, 1}, perBatch: 1}
	boom := errors.New("smtp: auth failed")
	d := NewDriver(Config{Epochs: 3, BatchSize: 16}, nil, ObserverFunc(func(EpochStats) error { return boom }))

	history, err := d.Run(tr, samples(8, 2), 4)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(history) != 1 || tr.calls != 1 {
		t.Fatalf("training continued after observer error: history %d calls %d", len(history), tr.calls)
	}
}

func TestDriverRejectsEmptyDataset(t *testing.T) {
	d := NewDriver(Config{Epochs: 1, BatchSize: 2}, nil)
	if _, err := d.Run(&scriptedTrainer{}, nil, 4); err == nil {
		t.Fatal("expected error for empty dataset")
	}
}

func TestCheckpointObserverSavesImprovements(t *testing.T) {
	dir := t.TempDir()
	saver := &fileSaver{}
	c := NewCheckpointObserver(saver, dir, "", nil)

	for i, loss := range []float64{2.34567, 2.5, 1.58671, 1.58671, 1.2} {
		if err := c.EpochEnd(EpochStats{Epoch: i + 1, Loss: loss}); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{
		"weights-improvement-01-2.3457.gob",
		"weights-improvement-03-1.5867.gob",
		"weights-improvement-05-1.2000.gob",
	}
	if len(saver.saved) != len(want) {
		t.Fatalf("saved %v, want %v", saver.saved, want)
	}
	for i := range want {
		if saver.saved[i] != want[i] {
			t.Fatalf("saved %v, want %v", saver.saved, want)
		}
		if _, err := os.Stat(filepath.Join(dir, want[i])); err != nil {
			t.Fatal(err)
		}
	}
	best, path := c.Best()
	if best != 1.2 || filepath.Base(path) != want[2] {
		t.Fatalf("Best() = %v, %s", best, path)
	}
}

func TestMetricsObserver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.json")
	o := NewMetricsObserver(path)
	for i, loss := range []float64{1.5, 1.0} {
		if err := o.EpochEnd(EpochStats{Epoch: i + 1, Loss: loss}); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if len(m.Epochs) != 2 || m.Epochs[1].Epoch != 2 || m.Epochs[1].Loss != 1.0 {
		t.Fatalf("metrics = %+v", m)
	}
	if m.Epochs[1].Perplexity < 2.71 || m.Epochs[1].Perplexity > 2.72 {
		t.Fatalf("perplexity = %v", m.Epochs[1].Perplexity)
	}
}

func TestSaveJSONMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "manifest.json")
	err := SaveJSON(path, NewManifest())
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want os.ErrNotExist in chain", err)
	}
}

func TestNewManifest(t *testing.T) {
	a, b := NewManifest(), NewManifest()
	if a.RunID == "" || a.RunID == b.RunID {
		t.Fatalf("run ids %q and %q", a.RunID, b.RunID)
	}
}
