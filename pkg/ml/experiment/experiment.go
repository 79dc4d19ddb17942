// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package experiment runs a training experiment described by a Config: it reads the dataset, fits the
// vocabularies, builds the model and trains it according to the strategy the model declares, and
// finally evaluates a freshly loaded copy of the best saved model.
//
// Reports are written as JSON lines to Env.Stdout, diagnostics go to klog.
package experiment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/gomlx/batchtrain/pkg/ml/datasets"
	"github.com/gomlx/batchtrain/pkg/ml/models"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/ml/train/metrics"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Env holds the components available to an experiment, selected by name in the Config.
type Env[X, Y any] struct {
	// Readers of datasets, by the name used in the "dataset_reader" section.
	Readers map[string]datasets.Reader[X, Y]

	// Models and vocabularies constructors.
	Models *models.Registry

	// Metrics available to the "train" section.
	Metrics *metrics.Registry[Y]

	// Stdout receives the JSON-line reports. Defaults to os.Stdout.
	Stdout io.Writer

	// LoopHooks, if set, is called with the training loop before it runs, to attach
	// progress bars, plots, etc.
	LoopHooks func(loop train.Observable)

	// OnReport, if set, is called with each report of the best saved model, after it's written to Stdout.
	OnReport func(split string, report *train.EvalReport) error
}

// DefaultEnv returns the environment for CSV datasets of numeric features and string labels,
// with the models of package models and the classification metrics.
func DefaultEnv() *Env[[]float64, string] {
	return &Env[[]float64, string]{
		Readers: map[string]datasets.Reader[[]float64, string]{
			datasets.CSVReaderName: datasets.ReadCSV,
		},
		Models:  models.Default(),
		Metrics: metrics.Classification[string](),
		Stdout:  os.Stdout,
	}
}

// Run the experiment configured by cfg.
//
// Configuration errors wrap train.ErrConfig and are returned before any training starts.
// An interruption through ctx stops the training loop gracefully: it's not an error, and the final
// evaluation still runs.
func Run[X, Y any](ctx context.Context, cfg *Config, env *Env[X, Y]) error {
	stdout := env.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	reporter := train.NewReporter(stdout)

	// The train section is checked first: a configuration error must not leave fitted vocabularies behind.
	trainCfg, evalBatchSize, err := trainConfig(cfg.Train)
	if err != nil {
		return err
	}
	metricFns, err := env.Metrics.Resolve(trainCfg.Metrics)
	if err != nil {
		return errors.Wrapf(train.ErrConfig, "train section: %v", err)
	}

	ds, err := buildDataset(cfg, env)
	if err != nil {
		return err
	}
	vocabs, err := fitVocabs(cfg, env, ds)
	if err != nil {
		return err
	}

	modelName, err := models.ComponentName(cfg.Model)
	if err != nil {
		return err
	}
	model, err := env.Models.New(cfg.Model, vocabs, models.ModeTrain)
	if err != nil {
		return err
	}
	strategy, err := train.ResolveStrategy[X, Y](model)
	if err != nil {
		return errors.Wrapf(train.ErrConfig, "model %q: %v", modelName, err)
	}
	klog.V(1).Infof("Model %q training strategy: %s", modelName, strategy)

	switch strategy {
	case train.NotTrainable:
		klog.Infof("Model %q is not trainable, skip training", modelName)
		return nil

	case train.BatchIncremental:
		loop, err := train.NewLoop(model.(train.BatchTrainer[X, Y]), ds, trainCfg, metricFns, reporter)
		if err != nil {
			return err
		}
		if env.LoopHooks != nil {
			env.LoopHooks(loop)
		}
		if _, err = loop.Run(ctx); err != nil {
			return errors.WithMessagef(err, "training model %q", modelName)
		}

	case train.WholeDatasetFit:
		fitter := model.(train.Fitter[X, Y])
		if err = fitter.Fit(ds.IterAll(train.SplitTrain)); err != nil {
			return errors.WithMessagef(err, "fitting model %q", modelName)
		}
		if err = fitter.Save(); err != nil {
			return errors.WithMessagef(err, "saving model %q", modelName)
		}

	case train.LegacyOpaque:
		if err = model.(train.LegacyTrainer[X, Y]).Train(ds); err != nil {
			return errors.WithMessagef(err, "training model %q", modelName)
		}
		return nil
	}

	if !trainCfg.ValidateBest && !trainCfg.TestBest {
		return nil
	}
	return evaluateBest(cfg, env, trainCfg, evalBatchSize, ds, vocabs, metricFns, reporter)
}

// trainConfig merges the train section over train.DefaultConfig. A missing or null section is
// replaced by the defaults, with a warning.
//
// It also returns the batch size for the evaluation of the best model: the configured batch_size,
// or train.WholeSplit if the section doesn't set it.
func trainConfig(section json.RawMessage) (trainCfg train.Config, evalBatchSize int, err error) {
	section = bytes.TrimSpace(section)
	if len(section) == 0 || isNull(section) {
		klog.Warningf("Train config is missing. Populating with default values")
		return train.DefaultConfig(), train.WholeSplit, nil
	}
	if trainCfg, err = train.MergeConfig(section); err != nil {
		return
	}
	var options map[string]json.RawMessage
	if err = json.Unmarshal(section, &options); err != nil {
		err = errors.Wrapf(train.ErrConfig, "train section: %v", err)
		return
	}
	evalBatchSize = train.WholeSplit
	if batchSize, found := options["batch_size"]; found && !isNull(batchSize) {
		evalBatchSize = trainCfg.BatchSize
	}
	return
}

func isNull(value json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(value), []byte("null"))
}

// buildDataset reads the splits with the configured reader and builds the in-memory dataset over them.
func buildDataset[X, Y any](cfg *Config, env *Env[X, Y]) (*datasets.InMemory[X, Y], error) {
	readerName, err := models.ComponentName(cfg.DatasetReader)
	if err != nil {
		return nil, errors.WithMessage(err, "dataset_reader section")
	}
	reader, found := env.Readers[readerName]
	if !found {
		return nil, errors.Wrapf(train.ErrConfig, "unknown dataset_reader %q, known readers are %q",
			readerName, slices.Sorted(maps.Keys(env.Readers)))
	}
	if len(cfg.Dataset) > 0 {
		datasetName, err := models.ComponentName(cfg.Dataset)
		if err != nil {
			return nil, errors.WithMessage(err, "dataset section")
		}
		if datasetName != datasets.InMemoryName {
			return nil, errors.Wrapf(train.ErrConfig, "unknown dataset %q, only %q is supported",
				datasetName, datasets.InMemoryName)
		}
	}
	splits, err := reader(cfg.DatasetReader)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading dataset with %q", readerName)
	}
	return datasets.BuildInMemory(readerName, splits, cfg.Dataset)
}

// fitVocabs builds, fits on the train split and saves each vocabulary, in the order of their names.
func fitVocabs[X, Y any](cfg *Config, env *Env[X, Y], ds train.Dataset[X, Y]) (models.Vocabs, error) {
	vocabs := make(models.Vocabs, len(cfg.Vocabs))
	for _, name := range slices.Sorted(maps.Keys(cfg.Vocabs)) {
		vocab, err := env.Models.New(cfg.Vocabs[name], vocabs, models.ModeTrain)
		if err != nil {
			return nil, errors.WithMessagef(err, "vocabulary %q", name)
		}
		strategy, err := train.ResolveStrategy[X, Y](vocab)
		if err != nil {
			return nil, errors.Wrapf(train.ErrConfig, "vocabulary %q: %v", name, err)
		}
		if strategy != train.WholeDatasetFit {
			return nil, errors.Wrapf(train.ErrConfig, "vocabulary %q must be fit on the whole dataset, it declares %s",
				name, strategy)
		}
		fitter := vocab.(train.Fitter[X, Y])
		if err = fitter.Fit(ds.IterAll(train.SplitTrain)); err != nil {
			return nil, errors.WithMessagef(err, "fitting vocabulary %q", name)
		}
		if err = fitter.Save(); err != nil {
			return nil, errors.WithMessagef(err, "saving vocabulary %q", name)
		}
		vocabs[name] = vocab
	}
	return vocabs, nil
}

// evaluateBest builds the model again in inference mode, from its saved checkpoint, and reports its metrics
// on the valid and/or test splits.
func evaluateBest[X, Y any](cfg *Config, env *Env[X, Y], trainCfg train.Config, batchSize int,
	ds train.Dataset[X, Y], vocabs models.Vocabs, metricFns []metrics.Named[Y], reporter *train.Reporter) error {
	klog.Infof("Testing the best saved model")
	model, err := env.Models.New(cfg.Model, vocabs, models.ModeInfer)
	if err != nil {
		return errors.WithMessage(err, "loading best saved model")
	}
	inferer, ok := model.(train.Inferer[X, Y])
	if !ok {
		return errors.Errorf("model %T loaded for evaluation doesn't implement Infer", model)
	}
	for _, split := range []string{train.SplitValid, train.SplitTest} {
		if (split == train.SplitValid && !trainCfg.ValidateBest) || (split == train.SplitTest && !trainCfg.TestBest) {
			continue
		}
		report, err := train.Evaluate(inferer, metricFns, ds, batchSize, split, time.Now())
		if err != nil {
			return errors.WithMessagef(err, "evaluating best model on %q", split)
		}
		if err = reporter.ReportEval(split, report); err != nil {
			return err
		}
		if env.OnReport != nil {
			if err = env.OnReport(split, report); err != nil {
				return err
			}
		}
	}
	return nil
}
