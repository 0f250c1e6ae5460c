package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"textgen/internal/config"
	"textgen/internal/generate"
	"textgen/internal/model"
	"textgen/internal/text"
)

func TestParseConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textgen.yaml")
	if err := os.WriteFile(path, []byte("epochs: 12\nbatch_size: 64\nseq_length: 50\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseConfig("train", []string{"-config", path, "-batch", "8", "-decoder", "sample"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Epochs != 12 || cfg.SeqLength != 50 {
		t.Fatalf("YAML values lost: %+v", cfg)
	}
	if cfg.BatchSize != 8 {
		t.Fatalf("flag did not override YAML: batch %d", cfg.BatchSize)
	}
	if _, ok := decoder(cfg).(*generate.Sampler); !ok {
		t.Fatalf("decoder %T, want *generate.Sampler", decoder(cfg))
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig("demo", nil)
	if err != nil {
		t.Fatal(err)
	}
	mc := modelConfig(cfg)
	if mc.Window != 100 || mc.Hidden != 256 || mc.Layers != 2 {
		t.Fatalf("model config %+v", mc)
	}
	if _, ok := decoder(cfg).(generate.Greedy); !ok {
		t.Fatalf("decoder %T, want generate.Greedy", decoder(cfg))
	}
}

func TestLoadCorpusMissing(t *testing.T) {
	if _, err := loadCorpus(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatal("expected error for missing corpus")
	}
}

func TestLoadModelChecksVocabFile(t *testing.T) {
	dir := t.TempDir()
	vocab := text.BuildVocab("the cat sat on the mat")
	m, err := model.New(vocab, model.Config{Window: 4, Hidden: 8, Layers: 2, Seed: 5})
	if err != nil {
		t.Fatal(err)
	}
	ckpt := filepath.Join(dir, "weights.gob")
	if err := m.Save(ckpt); err != nil {
		t.Fatal(err)
	}
	m.Close()

	same := filepath.Join(dir, "vocab.json")
	if err := text.SaveVocab(same, vocab); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, "other.json")
	if err := text.SaveVocab(other, text.BuildVocab("a dog")); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.ModelFile, cfg.VocabFile = ckpt, same
	loaded, err := loadModel(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.Vocab().Equal(vocab) {
		t.Fatal("loaded vocabulary differs")
	}
	loaded.Close()

	cfg.VocabFile = other
	if _, err := loadModel(cfg); !errors.Is(err, model.ErrVocabMismatch) {
		t.Fatalf("err = %v, want ErrVocabMismatch", err)
	}
}

func TestDemoModelFromVocabFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	vocab := text.BuildVocab("hello world")
	if err := text.SaveVocab(path, vocab); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Corpus = filepath.Join(t.TempDir(), "missing.txt")
	cfg.VocabFile = path
	cfg.SeqLength, cfg.Hidden = 4, 8
	m, err := demoModel(cfg, logrus.NewEntry(cfg.Logger()))
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()
	if !m.Vocab().Equal(vocab) {
		t.Fatal("demo model did not use the vocabulary file")
	}
}
