// Package model implements the stacked LSTM character model on top of
// gorgonia. Weights live in plain tensors owned by the Model; every
// expression graph (one per batch size, plus one for prediction) binds to
// those tensors.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"textgen/internal/dataset"
	"textgen/internal/text"
)

var (
	// ErrShapeMismatch is returned when inputs or stored weights do not fit
	// the model's window, width or vocabulary.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrVocabMismatch is returned when a checkpoint was trained on a
	// different vocabulary.
	ErrVocabMismatch = errors.New("vocabulary mismatch")
)

// Config describes the network. Zero Window, Hidden, Layers and LearnRate
// take the values of DefaultConfig.
type Config struct {
	Window    int
	Hidden    int
	Layers    int
	Dropout   float64
	LearnRate float64
	Seed      int64
}

func DefaultConfig() Config {
	return Config{
		Window:    100,
		Hidden:    256,
		Layers:    2,
		Dropout:   0.2,
		LearnRate: 0.001,
		Seed:      1337,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window == 0 {
		c.Window = d.Window
	}
	if c.Hidden == 0 {
		c.Hidden = d.Hidden
	}
	if c.Layers == 0 {
		c.Layers = d.Layers
	}
	if c.LearnRate == 0 {
		c.LearnRate = d.LearnRate
	}
	return c
}

type param struct {
	name  string
	value *tensor.Dense
}

// Model is a stack of LSTM layers followed by a dense softmax layer sized to
// the vocabulary.
type Model struct {
	cfg    Config
	vocab  *text.Vocab
	params []param

	solver  gorgonia.Solver
	train   map[int]*machine
	predict *machine
}

// New creates a model with freshly initialized weights for vocab.
func New(vocab *text.Vocab, cfg Config) (*Model, error) {
	cfg = cfg.withDefaults()
	if vocab == nil || vocab.Size() < 2 {
		return nil, errors.New("model needs a vocabulary of at least two runes")
	}
	if cfg.Window < 1 || cfg.Hidden < 1 || cfg.Layers < 1 {
		return nil, errors.Errorf("invalid model shape: window=%d hidden=%d layers=%d", cfg.Window, cfg.Hidden, cfg.Layers)
	}
	if cfg.Dropout < 0 || cfg.Dropout >= 1 {
		return nil, errors.Errorf("dropout %v outside [0,1)", cfg.Dropout)
	}

	m := &Model{
		cfg:    cfg,
		vocab:  vocab,
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearnRate)),
		train:  make(map[int]*machine),
	}
	m.initParams(rand.New(rand.NewSource(cfg.Seed)))
	return m, nil
}

func (m *Model) Config() Config { return m.cfg }

func (m *Model) Vocab() *text.Vocab { return m.vocab }

// gates in the order input, forget, output, candidate
var gateNames = [4]string{"i", "f", "o", "g"}

func (m *Model) initParams(rng *rand.Rand) {
	h := m.cfg.Hidden
	in := 1
	for l := 0; l < m.cfg.Layers; l++ {
		for k, gate := range gateNames {
			m.addParam(fmt.Sprintf("l%d_wx_%s", l, gate), glorot(rng, in, h))
			m.addParam(fmt.Sprintf("l%d_wh_%s", l, gate), glorot(rng, h, h))
			b := make([]float32, h)
			if k == 1 {
				// forget gate starts open
				for j := range b {
					b[j] = 1
				}
			}
			m.addParam(fmt.Sprintf("l%d_b_%s", l, gate), tensor.New(tensor.WithShape(1, h), tensor.WithBacking(b)))
		}
		in = h
	}
	v := m.vocab.Size()
	m.addParam("out_w", glorot(rng, h, v))
	m.addParam("out_b", tensor.New(tensor.WithShape(1, v), tensor.WithBacking(make([]float32, v))))
}

func (m *Model) addParam(name string, t *tensor.Dense) {
	m.params = append(m.params, param{name: name, value: t})
}

func glorot(rng *rand.Rand, rows, cols int) *tensor.Dense {
	limit := math.Sqrt(6 / float64(rows+cols))
	data := make([]float32, rows*cols)
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * limit)
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// Predict returns the next-rune distribution for a single window of
// vocabulary indices.
func (m *Model) Predict(window []int) ([]float32, error) {
	if len(window) != m.cfg.Window {
		return nil, errors.Wrapf(ErrShapeMismatch, "window has %d entries, model expects %d", len(window), m.cfg.Window)
	}
	v := m.vocab.Size()
	for _, id := range window {
		if id < 0 || id >= v {
			return nil, errors.Wrapf(text.ErrUnknownIndex, "%d", id)
		}
	}

	if m.predict == nil {
		mc, err := m.build(1, false)
		if err != nil {
			return nil, err
		}
		m.predict = mc
	}
	mc := m.predict
	defer mc.vm.Reset()

	m.pull(mc)
	scaled := dataset.Scale(window, v)
	for t, x := range mc.xs {
		if err := gorgonia.Let(x, tensor.New(tensor.WithShape(1, 1), tensor.WithBacking([]float32{scaled[t]}))); err != nil {
			return nil, errors.Wrap(err, "setting input failed")
		}
	}
	if err := mc.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}

	probs, ok := mc.probs.Value().Data().([]float32)
	if !ok {
		return nil, errors.New("probs value is not float32")
	}
	return append([]float32(nil), probs...), nil
}

// TrainBatch runs one forward/backward pass over b and applies one Adam
// step. It returns the mean categorical cross-entropy of the batch.
func (m *Model) TrainBatch(b dataset.Batch) (float64, error) {
	if b.Window != m.cfg.Window || b.Vocab != m.vocab.Size() {
		return 0, errors.Wrapf(ErrShapeMismatch, "batch window=%d vocab=%d, model window=%d vocab=%d",
			b.Window, b.Vocab, m.cfg.Window, m.vocab.Size())
	}
	if b.Size == 0 {
		return 0, errors.New("empty batch")
	}

	mc, ok := m.train[b.Size]
	if !ok {
		var err error
		if mc, err = m.build(b.Size, true); err != nil {
			return 0, err
		}
		m.train[b.Size] = mc
	}
	defer mc.vm.Reset()

	m.pull(mc)
	for t, x := range mc.xs {
		if err := gorgonia.Let(x, tensor.New(tensor.WithShape(b.Size, 1), tensor.WithBacking(b.Step(t)))); err != nil {
			return 0, errors.Wrap(err, "setting input failed")
		}
	}
	if err := gorgonia.Let(mc.y, tensor.New(tensor.WithShape(b.Size, b.Vocab), tensor.WithBacking(b.Targets))); err != nil {
		return 0, errors.Wrap(err, "setting target failed")
	}
	if err := mc.vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "vm.RunAll failed")
	}

	loss, ok := mc.cost.Value().Data().(float32)
	if !ok {
		return 0, errors.New("cost value is not a float32 scalar")
	}
	if err := m.solver.Step(gorgonia.NodesToValueGrads(mc.learnables)); err != nil {
		return 0, errors.Wrap(err, "solver step failed")
	}
	m.push(mc)
	return float64(loss), nil
}

// pull makes sure the graph's learnables hold the model's current weights.
func (m *Model) pull(mc *machine) {
	for i, n := range mc.learnables {
		v, ok := n.Value().(*tensor.Dense)
		if !ok || v == m.params[i].value {
			continue
		}
		copy(v.Float32s(), m.params[i].value.Float32s())
	}
}

// push copies weights back when the solver replaced a node's value instead
// of updating it in place.
func (m *Model) push(mc *machine) {
	for i, n := range mc.learnables {
		v, ok := n.Value().(*tensor.Dense)
		if !ok || v == m.params[i].value {
			continue
		}
		copy(m.params[i].value.Float32s(), v.Float32s())
	}
}

// Close releases the tape machines.
func (m *Model) Close() error {
	for size, mc := range m.train {
		mc.vm.Close()
		delete(m.train, size)
	}
	if m.predict != nil {
		m.predict.vm.Close()
		m.predict = nil
	}
	return nil
}
