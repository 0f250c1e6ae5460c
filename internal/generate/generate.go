// Package generate produces text from a trained model one rune at a time.
package generate

import (
	"unicode/utf8"

	"github.com/pkg/errors"

	"textgen/internal/text"
)

// ErrSeedLength is returned when a seed does not fill the window exactly.
var ErrSeedLength = errors.New("seed length does not match window")

// ErrLength is returned for a negative generation length.
var ErrLength = errors.New("generation length is negative")

// Predictor returns the next-index distribution for a window of indices.
type Predictor interface {
	Predict(window []int) ([]float32, error)
}

// Generator extends seeds autoregressively: predict, decode, append, slide.
type Generator struct {
	model   Predictor
	vocab   *text.Vocab
	window  int
	decoder Decoder
}

// New returns a generator with greedy decoding unless decoder is set.
func New(model Predictor, vocab *text.Vocab, window int, decoder Decoder) *Generator {
	if decoder == nil {
		decoder = Greedy{}
	}
	return &Generator{model: model, vocab: vocab, window: window, decoder: decoder}
}

// Generate returns n predicted runes appended to seed, or only the n
// predicted runes when onlyGenerated is set. The seed must be exactly one
// window long and every rune must be in the vocabulary.
func (g *Generator) Generate(seed string, n int, onlyGenerated bool) (string, error) {
	if n < 0 {
		return "", errors.Wrapf(ErrLength, "n = %d", n)
	}
	if l := utf8.RuneCountInString(seed); l != g.window {
		return "", errors.Wrapf(ErrSeedLength, "seed has %d runes, window is %d", l, g.window)
	}
	ctx, err := g.vocab.Encode(seed)
	if err != nil {
		return "", errors.Wrap(err, "encode seed")
	}

	out := make([]rune, 0, g.window+n)
	if !onlyGenerated {
		out = append(out, []rune(seed)...)
	}
	for i := 0; i < n; i++ {
		probs, err := g.model.Predict(ctx)
		if err != nil {
			return "", errors.Wrapf(err, "predict step %d", i)
		}
		id, err := g.decoder.Pick(probs)
		if err != nil {
			return "", errors.Wrapf(err, "decode step %d", i)
		}
		r, err := g.vocab.Rune(id)
		if err != nil {
			return "", err
		}
		out = append(out, r)

		copy(ctx, ctx[1:])
		ctx[len(ctx)-1] = id
	}
	return string(out), nil
}

// Fit pads s on the left with spaces or keeps its last window runes so
// that it can be used as a seed.
func Fit(s string, window int) string {
	r := []rune(s)
	if len(r) >= window {
		return string(r[len(r)-window:])
	}
	pad := make([]rune, window-len(r))
	for i := range pad {
		pad[i] = ' '
	}
	return string(append(pad, r...))
}
