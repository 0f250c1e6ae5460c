// Package config holds every setting of a textgen run. Values come from
// the defaults, then an optional YAML file, then command-line flags.
package config

import (
	"flag"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Corpus            string  `yaml:"corpus"`
	OutDir            string  `yaml:"out_dir"`
	ModelFile         string  `yaml:"model_file"`
	VocabFile         string  `yaml:"vocab_file"`
	SeqLength         int     `yaml:"seq_length"`
	Hidden            int     `yaml:"hidden"`
	Layers            int     `yaml:"layers"`
	Dropout           float64 `yaml:"dropout"`
	LearningRate      float64 `yaml:"learning_rate"`
	Epochs            int     `yaml:"epochs"`
	BatchSize         int     `yaml:"batch_size"`
	Seed              int64   `yaml:"seed"`
	CheckpointPattern string  `yaml:"checkpoint_pattern"`

	GenLength int      `yaml:"gen_length"`
	Seeds     []string `yaml:"seeds"`
	Decoder   Decoder  `yaml:"decoder"`

	LogLevel string `yaml:"log_level"`
	Mail     Mail   `yaml:"mail"`
}

type Decoder struct {
	Kind        string  `yaml:"kind"` // greedy or sample
	Temperature float64 `yaml:"temperature"`
	TopK        int     `yaml:"top_k"`
	TopP        float64 `yaml:"top_p"`
}

type Mail struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	Subject  string `yaml:"subject"`
	Length   int    `yaml:"length"`
}

// DefaultSeeds are the demo prompts, each exactly 100 runes long.
var DefaultSeeds = []string{
	"egy szép napon arra lettem figyelmes, hogy két igen szép sirály szállt le a sziget tetejére. nem tud",
	"hol volt, hol nem volt, volt egyszer egy hajótörött, aki egy lakatlan sziget fogságába került, amibő",
	"és béviszlek titeket a földre, a mely felől esküre emeltem fel kezemet, hogy ábrahámnak, izsáknak és",
	"a neurális hálózat biológiai neuronok összekapcsolt csoportja. modern használatban a szó alatt a mes",
	"adott egy parciális differenciálegyenlet és peremértékfeladat. például az elektrosztatika peremérték",
}

func Default() Config {
	return Config{
		Corpus:            "datas/robinson_crusoe.txt",
		OutDir:            ".",
		SeqLength:         100,
		Hidden:            256,
		Layers:            2,
		Dropout:           0.2,
		LearningRate:      0.001,
		Epochs:            500,
		BatchSize:         256,
		Seed:              1337,
		CheckpointPattern: "weights-improvement-%02d-%.4f.gob",
		GenLength:         100,
		Seeds:             append([]string(nil), DefaultSeeds...),
		Decoder:           Decoder{Kind: "greedy", Temperature: 1},
		LogLevel:          "info",
		Mail: Mail{
			Port:    587,
			Subject: "Report",
			Length:  100,
		},
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// BindFlags registers flags that override the current values of c.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Corpus, "corpus", c.Corpus, "Path to training corpus")
	fs.StringVar(&c.OutDir, "out", c.OutDir, "Directory for checkpoints, vocabulary and metrics")
	fs.StringVar(&c.ModelFile, "model", c.ModelFile, "Checkpoint to load before training or generating")
	fs.StringVar(&c.VocabFile, "vocab", c.VocabFile, "vocab.json the checkpoint must match; without -model, demo builds its vocabulary from it")
	fs.IntVar(&c.SeqLength, "win", c.SeqLength, "Context window size")
	fs.IntVar(&c.Hidden, "hidden", c.Hidden, "LSTM width")
	fs.IntVar(&c.Layers, "layers", c.Layers, "Number of LSTM layers")
	fs.Float64Var(&c.Dropout, "dropout", c.Dropout, "Dropout probability")
	fs.Float64Var(&c.LearningRate, "lr", c.LearningRate, "Learning rate")
	fs.IntVar(&c.Epochs, "epochs", c.Epochs, "Number of epochs")
	fs.IntVar(&c.BatchSize, "batch", c.BatchSize, "Batch size")
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Random seed")
	fs.IntVar(&c.GenLength, "max", c.GenLength, "Runes to generate per seed")
	fs.StringVar(&c.Decoder.Kind, "decoder", c.Decoder.Kind, "Decoding strategy: greedy or sample")
	fs.Float64Var(&c.Decoder.Temperature, "temp", c.Decoder.Temperature, "Sampling temperature")
	fs.IntVar(&c.Decoder.TopK, "topk", c.Decoder.TopK, "Top-k sampling")
	fs.Float64Var(&c.Decoder.TopP, "topp", c.Decoder.TopP, "Top-p (nucleus) sampling")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.BoolVar(&c.Mail.Enabled, "mail", c.Mail.Enabled, "Mail a sample after every epoch")
}

// Validate checks the settings shared by every command.
func (c Config) Validate() error {
	switch {
	case c.SeqLength < 1:
		return errors.Errorf("seq_length must be positive, got %d", c.SeqLength)
	case c.Hidden < 1 || c.Layers < 1:
		return errors.Errorf("hidden and layers must be positive, got %d and %d", c.Hidden, c.Layers)
	case c.Dropout < 0 || c.Dropout >= 1:
		return errors.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	case c.Epochs < 1 || c.BatchSize < 1:
		return errors.Errorf("epochs and batch_size must be positive, got %d and %d", c.Epochs, c.BatchSize)
	case c.GenLength < 0:
		return errors.Errorf("gen_length must not be negative, got %d", c.GenLength)
	case c.Decoder.Kind != "greedy" && c.Decoder.Kind != "sample":
		return errors.Errorf("unknown decoder %q", c.Decoder.Kind)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.Mail.Enabled {
		if c.Mail.Host == "" || c.Mail.From == "" || c.Mail.To == "" {
			return errors.New("mail needs host, from and to")
		}
		if len(c.Seeds) == 0 {
			return errors.New("mail needs at least one seed")
		}
	}
	return nil
}

// Logger returns a logrus logger at the configured level.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	return log
}
