package model

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"textgen/internal/text"
)

const checkpointVersion = 1

// checkpoint is the on-disk form of a model. It carries the vocabulary so a
// reload never depends on rebuilding it from identical corpus text.
type checkpoint struct {
	Version int
	Runes   []rune
	Window  int
	Hidden  int
	Layers  int
	Params  []tensorBlob
}

type tensorBlob struct {
	Name  string
	Shape []int
	Data  []float32
}

// Save writes the weights, shape and vocabulary to path.
func (m *Model) Save(path string) error {
	ck := checkpoint{
		Version: checkpointVersion,
		Runes:   m.vocab.Runes(),
		Window:  m.cfg.Window,
		Hidden:  m.cfg.Hidden,
		Layers:  m.cfg.Layers,
		Params:  make([]tensorBlob, len(m.params)),
	}
	for i, p := range m.params {
		ck.Params[i] = tensorBlob{
			Name:  p.name,
			Shape: append([]int(nil), p.value.Shape()...),
			Data:  p.value.Float32s(),
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create checkpoint")
	}
	if err := gob.NewEncoder(f).Encode(&ck); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode checkpoint %s", path)
	}
	return errors.Wrap(f.Close(), "close checkpoint")
}

func readCheckpoint(path string) (*checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open checkpoint")
	}
	defer f.Close()

	var ck checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return nil, errors.Wrapf(err, "decode checkpoint %s", path)
	}
	if ck.Version != checkpointVersion {
		return nil, errors.Errorf("checkpoint %s has version %d, want %d", path, ck.Version, checkpointVersion)
	}
	return &ck, nil
}

// Load builds a model from a checkpoint. Shape and vocabulary come from the
// file; cfg supplies the training settings (dropout, learning rate, seed).
func Load(path string, cfg Config) (*Model, error) {
	ck, err := readCheckpoint(path)
	if err != nil {
		return nil, err
	}
	vocab, err := text.FromRunes(ck.Runes)
	if err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s vocabulary", path)
	}
	cfg.Window, cfg.Hidden, cfg.Layers = ck.Window, ck.Hidden, ck.Layers
	m, err := New(vocab, cfg)
	if err != nil {
		return nil, err
	}
	if err := m.assign(ck); err != nil {
		return nil, errors.Wrapf(err, "checkpoint %s", path)
	}
	return m, nil
}

// LoadWeights replaces the model's weights with those stored at path. The
// checkpoint must have been trained with the same vocabulary and shape.
func (m *Model) LoadWeights(path string) error {
	ck, err := readCheckpoint(path)
	if err != nil {
		return err
	}
	if len(ck.Runes) != m.vocab.Size() {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint %s has %d outputs, vocabulary has %d", path, len(ck.Runes), m.vocab.Size())
	}
	stored, err := text.FromRunes(ck.Runes)
	if err != nil || !stored.Equal(m.vocab) {
		return errors.Wrapf(ErrVocabMismatch, "checkpoint %s", path)
	}
	if ck.Window != m.cfg.Window {
		return errors.Wrapf(ErrShapeMismatch, "checkpoint %s window %d, model window %d", path, ck.Window, m.cfg.Window)
	}
	return errors.Wrapf(m.assign(ck), "checkpoint %s", path)
}

func (m *Model) assign(ck *checkpoint) error {
	if len(ck.Params) != len(m.params) {
		return errors.Wrapf(ErrShapeMismatch, "%d tensors stored, model has %d", len(ck.Params), len(m.params))
	}
	for i, p := range m.params {
		blob := ck.Params[i]
		if blob.Name != p.name || !tensor.Shape(blob.Shape).Eq(p.value.Shape()) || len(blob.Data) != p.value.Shape().TotalSize() {
			return errors.Wrapf(ErrShapeMismatch, "tensor %s%v stored as %s%v", p.name, p.value.Shape(), blob.Name, blob.Shape)
		}
	}
	for i, p := range m.params {
		copy(p.value.Float32s(), ck.Params[i].Data)
	}
	return nil
}
