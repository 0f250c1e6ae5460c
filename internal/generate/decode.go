package generate

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Decoder picks the next index from a predicted distribution.
type Decoder interface {
	Pick(probs []float32) (int, error)
}

// Greedy always picks the most likely index. Ties go to the lowest index.
type Greedy struct{}

func (Greedy) Pick(probs []float32) (int, error) {
	if len(probs) == 0 {
		return 0, errors.New("empty distribution")
	}
	return floats.MaxIdx(toFloat64(probs)), nil
}

// SamplerConfig controls stochastic decoding.
type SamplerConfig struct {
	Temperature float64
	TopK        int
	TopP        float64
	Seed        uint64
}

// Sampler draws the next index after temperature scaling and optional
// top-k / nucleus filtering.
type Sampler struct {
	cfg SamplerConfig
	src rand.Source
}

func NewSampler(cfg SamplerConfig) *Sampler {
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	return &Sampler{cfg: cfg, src: rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)}
}

func (s *Sampler) Pick(probs []float32) (int, error) {
	if len(probs) == 0 {
		return 0, errors.New("empty distribution")
	}
	w := withTemperature(toFloat64(probs), s.cfg.Temperature)
	if s.cfg.TopK > 0 && s.cfg.TopK < len(w) {
		w = topK(w, s.cfg.TopK)
	}
	if s.cfg.TopP > 0 && s.cfg.TopP < 1 {
		w = topP(w, s.cfg.TopP)
	}
	if floats.Sum(w) <= 0 {
		return floats.MaxIdx(toFloat64(probs)), nil
	}
	return int(distuv.NewCategorical(w, s.src).Rand()), nil
}

func toFloat64(p []float32) []float64 {
	out := make([]float64, len(p))
	for i, v := range p {
		out[i] = float64(v)
	}
	return out
}

// withTemperature rescales p as p^(1/t) and renormalizes.
func withTemperature(p []float64, t float64) []float64 {
	if t == 1 {
		return p
	}
	out := make([]float64, len(p))
	for i, v := range p {
		if v > 0 {
			out[i] = math.Exp(math.Log(v) / t)
		}
	}
	if s := floats.Sum(out); s > 0 {
		floats.Scale(1/s, out)
	}
	return out
}

func ranked(p []float64) []int {
	idx := make([]int, len(p))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p[idx[a]] > p[idx[b]] })
	return idx
}

func topK(p []float64, k int) []float64 {
	out := make([]float64, len(p))
	for _, i := range ranked(p)[:k] {
		out[i] = p[i]
	}
	return out
}

func topP(p []float64, th float64) []float64 {
	out := make([]float64, len(p))
	total := floats.Sum(p)
	var cum float64
	for _, i := range ranked(p) {
		out[i] = p[i]
		cum += p[i]
		if cum >= th*total {
			break
		}
	}
	return out
}
