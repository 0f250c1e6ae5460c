// Package dataset turns an encoded corpus into fixed-width training windows
// and batches ready for the sequence model.
package dataset

import "math/rand"

// Sample is one training example: a window of indices and the index that
// follows it in the corpus.
type Sample struct {
	Window []int
	Label  int
}

// Batch holds scaled inputs (batch x window) and one-hot targets
// (batch x vocab), both row-major.
type Batch struct {
	Inputs  []float32
	Targets []float32
	Size    int
	Window  int
	Vocab   int
}

// Windows slides a window of width w over ids one step at a time and
// returns len(ids)-w samples. Windows share the backing array of ids.
func Windows(ids []int, w int) []Sample {
	if w <= 0 || len(ids) <= w {
		return nil
	}
	out := make([]Sample, 0, len(ids)-w)
	for i := 0; i+w < len(ids); i++ {
		out = append(out, Sample{Window: ids[i : i+w : i+w], Label: ids[i+w]})
	}
	return out
}

// Scale maps indices into [0,1) by dividing by the vocabulary size.
func Scale(window []int, vocab int) []float32 {
	out := make([]float32, len(window))
	scaleInto(out, window, vocab)
	return out
}

func scaleInto(dst []float32, window []int, vocab int) {
	v := float32(vocab)
	for i, id := range window {
		dst[i] = float32(id) / v
	}
}

// OneHot encodes label against a vocabulary of the given size.
func OneHot(label, vocab int) []float32 {
	out := make([]float32, vocab)
	out[label] = 1
	return out
}

// Shuffle permutes samples in place using rng.
func Shuffle(samples []Sample, rng *rand.Rand) {
	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
}

// Batches groups samples into batches of at most size rows. The last batch
// holds the remainder.
func Batches(samples []Sample, size, vocab int) []Batch {
	if size <= 0 || len(samples) == 0 {
		return nil
	}
	w := len(samples[0].Window)
	var batches []Batch
	for i := 0; i < len(samples); i += size {
		j := i + size
		if j > len(samples) {
			j = len(samples)
		}
		batches = append(batches, NewBatch(samples[i:j], w, vocab))
	}
	return batches
}

// NewBatch builds one batch from samples that all have width w.
func NewBatch(samples []Sample, w, vocab int) Batch {
	n := len(samples)
	b := Batch{
		Inputs:  make([]float32, n*w),
		Targets: make([]float32, n*vocab),
		Size:    n,
		Window:  w,
		Vocab:   vocab,
	}
	for k, s := range samples {
		scaleInto(b.Inputs[k*w:(k+1)*w], s.Window, vocab)
		b.Targets[k*vocab+s.Label] = 1
	}
	return b
}

// Step returns column t of the inputs, one value per row.
func (b Batch) Step(t int) []float32 {
	out := make([]float32, b.Size)
	for k := 0; k < b.Size; k++ {
		out[k] = b.Inputs[k*b.Window+t]
	}
	return out
}
