package dataset

import (
	"math/rand"
	"testing"

	"textgen/internal/text"
)

func TestWindowsCoverage(t *testing.T) {
	corpus := text.Normalize("The quick brown fox\njumps over the lazy dog.")
	v := text.BuildVocab(corpus)
	ids, err := v.Encode(corpus)
	if err != nil {
		t.Fatal(err)
	}
	runes := []rune(corpus)

	const w = 7
	samples := Windows(ids, w)
	if len(samples) != len(runes)-w {
		t.Fatalf("got %d samples, want %d", len(samples), len(runes)-w)
	}
	for i, s := range samples {
		want, err := v.Encode(string(runes[i : i+w]))
		if err != nil {
			t.Fatal(err)
		}
		for k := range want {
			if s.Window[k] != want[k] {
				t.Fatalf("sample %d window = %v, want %v", i, s.Window, want)
			}
		}
		label, _ := v.Index(runes[i+w])
		if s.Label != label {
			t.Fatalf("sample %d label = %d, want %d", i, s.Label, label)
		}
	}
}

func TestWindowsShortInput(t *testing.T) {
	if got := Windows([]int{1, 2, 3}, 3); got != nil {
		t.Fatalf("Windows on text of window length = %v, want nil", got)
	}
	if got := Windows([]int{1, 2, 3, 4}, 3); len(got) != 1 {
		t.Fatalf("got %d samples, want 1", len(got))
	}
}

func TestScaleAndOneHot(t *testing.T) {
	got := Scale([]int{0, 2, 3}, 4)
	want := []float32{0, 0.5, 0.75}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Scale = %v, want %v", got, want)
		}
	}

	oh := OneHot(2, 4)
	for i, x := range oh {
		if (i == 2) != (x == 1) || (i != 2 && x != 0) {
			t.Fatalf("OneHot(2, 4) = %v", oh)
		}
	}
}

func TestBatches(t *testing.T) {
	ids := []int{0, 1, 2, 3, 0, 1, 2, 3, 0, 1}
	samples := Windows(ids, 3)
	batches := Batches(samples, 3, 4)

	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if batches[2].Size != 1 {
		t.Fatalf("last batch size = %d, want 1", batches[2].Size)
	}
	b := batches[0]
	if len(b.Inputs) != 9 || len(b.Targets) != 12 {
		t.Fatalf("batch shapes: inputs %d targets %d", len(b.Inputs), len(b.Targets))
	}
	// second row: window [1 2 3], label 0
	if b.Inputs[3] != 0.25 || b.Inputs[5] != 0.75 {
		t.Fatalf("row 1 inputs = %v", b.Inputs[3:6])
	}
	if b.Targets[4] != 1 || b.Targets[5] != 0 {
		t.Fatalf("row 1 targets = %v", b.Targets[4:8])
	}
	step := b.Step(0)
	if step[0] != 0 || step[1] != 0.25 || step[2] != 0.5 {
		t.Fatalf("Step(0) = %v", step)
	}
}

func TestShuffleDeterministic(t *testing.T) {
	a := Windows([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 2)
	b := Windows([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, 2)
	Shuffle(a, rand.New(rand.NewSource(7)))
	Shuffle(b, rand.New(rand.NewSource(7)))
	for i := range a {
		if a[i].Label != b[i].Label {
			t.Fatalf("shuffle with the same seed differs at %d", i)
		}
	}
}
