package main

import (
	"bufio"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"textgen/internal/config"
	"textgen/internal/dataset"
	"textgen/internal/generate"
	"textgen/internal/model"
	"textgen/internal/notify"
	"textgen/internal/text"
	"textgen/internal/train"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var run func(config.Config, *logrus.Entry) error
	switch os.Args[1] {
	case "train":
		run = runTrain
	case "demo":
		run = runDemo
	case "generate":
		run = runGenerate
	default:
		printUsage()
		os.Exit(1)
	}

	cfg, err := parseConfig(os.Args[1], os.Args[2:])
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logrus.NewEntry(cfg.Logger()).WithField("cmd", os.Args[1])
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("failed")
	}
}

func printUsage() {
	fmt.Println("textgen - character-level LSTM text generator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  textgen train    [-config FILE] [-corpus FILE] [-out DIR] [-model FILE] [options]")
	fmt.Println("  textgen demo     [-config FILE] [-model FILE] [-vocab FILE] [options]")
	fmt.Println("  textgen generate -model FILE [-vocab FILE] [options] < prompts.txt")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  train     Train the model on a corpus, saving checkpoints when loss improves")
	fmt.Println("  demo      Print a continuation for each configured seed")
	fmt.Println("  generate  Continue every line read from stdin")
}

// parseConfig applies defaults, then the -config YAML file, then any flags
// given explicitly on the command line.
func parseConfig(name string, args []string) (config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "YAML configuration file")
	cfg := config.Default()
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *path != "" {
		loaded, err := config.Load(*path)
		if err != nil {
			return cfg, err
		}
		over := flag.NewFlagSet(name, flag.ContinueOnError)
		loaded.BindFlags(over)
		var setErr error
		fs.Visit(func(f *flag.Flag) {
			if f.Name == "config" || setErr != nil {
				return
			}
			setErr = over.Set(f.Name, f.Value.String())
		})
		if setErr != nil {
			return cfg, setErr
		}
		cfg = loaded
	}
	return cfg, cfg.Validate()
}

func modelConfig(cfg config.Config) model.Config {
	return model.Config{
		Window:    cfg.SeqLength,
		Hidden:    cfg.Hidden,
		Layers:    cfg.Layers,
		Dropout:   cfg.Dropout,
		LearnRate: cfg.LearningRate,
		Seed:      cfg.Seed,
	}
}

func decoder(cfg config.Config) generate.Decoder {
	if cfg.Decoder.Kind == "sample" {
		return generate.NewSampler(generate.SamplerConfig{
			Temperature: cfg.Decoder.Temperature,
			TopK:        cfg.Decoder.TopK,
			TopP:        cfg.Decoder.TopP,
			Seed:        uint64(cfg.Seed),
		})
	}
	return generate.Greedy{}
}

func loadCorpus(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "load corpus")
	}
	return text.Normalize(string(data)), nil
}

func runTrain(cfg config.Config, log *logrus.Entry) error {
	corpus, err := loadCorpus(cfg.Corpus)
	if err != nil {
		return err
	}
	vocab := text.BuildVocab(corpus)
	ids, err := vocab.Encode(corpus)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"path": cfg.Corpus, "runes": len(ids), "vocab": vocab.Size()}).Info("corpus loaded")

	m, err := model.New(vocab, modelConfig(cfg))
	if err != nil {
		return err
	}
	defer m.Close()
	if cfg.ModelFile != "" {
		if err := m.LoadWeights(cfg.ModelFile); err != nil {
			return err
		}
		log.WithField("path", cfg.ModelFile).Info("weights loaded")
	}

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return errors.Wrap(err, "create output directory")
	}
	if err := text.SaveVocab(filepath.Join(cfg.OutDir, "vocab.json"), vocab); err != nil {
		return err
	}

	manifest := train.NewManifest()
	manifest.CorpusPath = cfg.Corpus
	manifest.CorpusHash = fmt.Sprintf("%x", sha256.Sum256([]byte(corpus)))[:16]
	manifest.CorpusRunes = len(ids)
	manifest.VocabSize = vocab.Size()
	manifest.Window, manifest.Hidden, manifest.Layers = cfg.SeqLength, cfg.Hidden, cfg.Layers
	manifest.Dropout, manifest.LearnRate = cfg.Dropout, cfg.LearningRate
	manifest.Epochs, manifest.BatchSize, manifest.Seed = cfg.Epochs, cfg.BatchSize, cfg.Seed
	if err := train.SaveJSON(filepath.Join(cfg.OutDir, "manifest.json"), manifest); err != nil {
		return errors.Wrap(err, "save manifest")
	}
	log = log.WithField("run_id", manifest.RunID)
	log.WithFields(logrus.Fields{"cpu": manifest.CPU, "cores": manifest.Cores}).Info("run started")

	ckpt := train.NewCheckpointObserver(m, cfg.OutDir, cfg.CheckpointPattern, log)
	d := train.NewDriver(train.Config{Epochs: cfg.Epochs, BatchSize: cfg.BatchSize, Seed: cfg.Seed}, log,
		ckpt,
		train.NewMetricsObserver(filepath.Join(cfg.OutDir, "metrics.json")),
	)
	if cfg.Mail.Enabled {
		sender := notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
		})
		gen := generate.New(m, vocab, cfg.SeqLength, decoder(cfg))
		d.Observe(notify.NewMailer(gen, sender, cfg.Seeds[0], cfg.Mail.Length, cfg.Mail.Subject, log))
	}

	if _, err := d.Run(m, dataset.Windows(ids, cfg.SeqLength), vocab.Size()); err != nil {
		return err
	}
	best, path := ckpt.Best()
	log.WithFields(logrus.Fields{"loss": best, "path": path}).Info("training complete")
	return nil
}

// loadModel reads the checkpoint and, when a vocabulary file is configured,
// checks that the checkpoint was trained over it.
func loadModel(cfg config.Config) (*model.Model, error) {
	m, err := model.Load(cfg.ModelFile, modelConfig(cfg))
	if err != nil {
		return nil, err
	}
	if cfg.VocabFile == "" {
		return m, nil
	}
	vocab, err := text.LoadVocab(cfg.VocabFile)
	if err != nil {
		m.Close()
		return nil, err
	}
	if !vocab.Equal(m.Vocab()) {
		m.Close()
		return nil, errors.Wrapf(model.ErrVocabMismatch, "%s does not match %s", cfg.VocabFile, cfg.ModelFile)
	}
	return m, nil
}

// demoModel loads the checkpoint if one is configured, otherwise builds an
// untrained model over the vocabulary file or the corpus.
func demoModel(cfg config.Config, log *logrus.Entry) (*model.Model, error) {
	if cfg.ModelFile != "" {
		return loadModel(cfg)
	}
	log.Warn("no model file configured, generating with untrained weights")
	if cfg.VocabFile != "" {
		vocab, err := text.LoadVocab(cfg.VocabFile)
		if err != nil {
			return nil, err
		}
		return model.New(vocab, modelConfig(cfg))
	}
	corpus, err := loadCorpus(cfg.Corpus)
	if err != nil {
		return nil, err
	}
	return model.New(text.BuildVocab(corpus), modelConfig(cfg))
}

func runDemo(cfg config.Config, log *logrus.Entry) error {
	m, err := demoModel(cfg, log)
	if err != nil {
		return err
	}
	defer m.Close()

	gen := generate.New(m, m.Vocab(), m.Config().Window, decoder(cfg))
	for _, seed := range cfg.Seeds {
		out, err := gen.Generate(seed, cfg.GenLength, true)
		if err != nil {
			return err
		}
		fmt.Printf("\n%s|%s\n\n", seed, out)
	}
	return nil
}

func runGenerate(cfg config.Config, log *logrus.Entry) error {
	if cfg.ModelFile == "" {
		return errors.New("generate needs -model")
	}
	m, err := loadModel(cfg)
	if err != nil {
		return err
	}
	defer m.Close()
	log.WithFields(logrus.Fields{"path": cfg.ModelFile, "vocab": m.Vocab().Size()}).Debug("model loaded")

	window := m.Config().Window
	gen := generate.New(m, m.Vocab(), window, decoder(cfg))
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		prompt := text.Normalize(scanner.Text())
		if prompt == "" {
			continue
		}
		out, err := gen.Generate(generate.Fit(prompt, window), cfg.GenLength, true)
		if err != nil {
			return err
		}
		fmt.Println(out)
	}
	return errors.Wrap(scanner.Err(), "read stdin")
}
