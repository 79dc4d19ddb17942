// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/gomlx/batchtrain/pkg/ml/models"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	trainCSV = `x,y,label
0,0,low
10,10,high
5,0,mid
1,0,low
9,10,high
5,1,mid
0,1,low
10,9,high
4,0,mid
`
	validCSV = `x,y,label
0.5,0,low
9,9,high
4.5,0.5,mid
1,1,low
`
	testCSV = `x,y,label
0,0.5,low
10,10,high
`
)

// setup writes the data files and the experiment configuration to a temporary directory, and
// returns the path to the configuration. The model and train sections are given as JSON.
func setup(t *testing.T, model, trainSection string) string {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	for name, contents := range map[string]string{"train.csv": trainCSV, "valid.csv": validCSV, "test.csv": testCSV} {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(contents), 0o644))
	}
	config := `{
		"dataset_reader": {"name": "csv", "data_path": "data"},
		"dataset": {"name": "in_memory", "seed": 7},
		"vocabs": {"labels": {"name": "label_vocab", "save_path": "vocabs/labels"}},
		"model": ` + model
	if trainSection != "" {
		config += `, "train": ` + trainSection
	}
	config += "}"
	configPath := filepath.Join(dir, "experiment.json")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o644))
	return configPath
}

func runExperiment(t *testing.T, ctx context.Context, configPath string) ([]train.Record, error) {
	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	env := DefaultEnv()
	var buf bytes.Buffer
	env.Stdout = &buf
	err = Run(ctx, cfg, env)

	var records []train.Record
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var record train.Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record), "line %q", scanner.Text())
		records = append(records, record)
	}
	return records, err
}

func metric(t *testing.T, report *train.EvalReport, name string) float64 {
	require.NotNil(t, report)
	score, found := report.Metrics.Get(name)
	require.True(t, found, "metric %q not in report", name)
	return score
}

func TestLoadConfig(t *testing.T) {
	configPath := setup(t, `{"name": "constant", "label": "low", "save_path": "~/not/relative"}`, "")
	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)
	dir := filepath.Dir(configPath)

	var reader struct {
		DataPath string `json:"data_path"`
	}
	require.NoError(t, json.Unmarshal(cfg.DatasetReader, &reader))
	assert.Equal(t, filepath.Join(dir, "data"), reader.DataPath)

	var vocab struct {
		SavePath string `json:"save_path"`
	}
	require.NoError(t, json.Unmarshal(cfg.Vocabs["labels"], &vocab))
	assert.Equal(t, filepath.Join(dir, "vocabs", "labels"), vocab.SavePath)

	var model struct {
		SavePath string `json:"save_path"`
	}
	require.NoError(t, json.Unmarshal(cfg.Model, &model))
	assert.False(t, strings.HasPrefix(model.SavePath, "~"), "tilde is expanded")
	assert.Empty(t, cfg.Train)

	for _, contents := range []string{
		`{"model": {"name": "constant"}}`,
		`{"dataset_reader": {"name": "csv"}}`,
		`{"dataset_reader": {"name": "csv"}, "model": {"name": "constant"}, "trainer": {}}`,
		`{"dataset_reader": "csv", "model": {"name": "constant"}}`,
		`[]`,
	} {
		_, err = ParseConfig([]byte(contents), dir)
		require.ErrorIs(t, err, train.ErrConfig, "config %s", contents)
	}

	_, err = LoadConfig(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestRunBatchIncremental(t *testing.T) {
	configPath := setup(t,
		`{"name": "perceptron", "save_path": "model", "learning_rate": 0.5}`,
		`{"epochs": 6, "batch_size": 2, "val_every_n_epochs": 1, "log_every_n_batches": 3,
		  "validation_patience": 3, "metrics": ["accuracy", "f1_macro"]}`)
	records, err := runExperiment(t, context.Background(), configPath)
	require.NoError(t, err)

	var trainLines, validLines []train.Record
	for _, record := range records[:len(records)-2] {
		if record.Train != nil {
			trainLines = append(trainLines, record)
		} else {
			require.NotNil(t, record.Valid)
			validLines = append(validLines, record)
		}
	}
	assert.NotEmpty(t, trainLines)
	require.NotEmpty(t, validLines)
	assert.LessOrEqual(t, len(validLines), 6)

	// The best saved model, loaded again in inference mode, reproduces the best validation.
	best := metric(t, validLines[0].Valid, "accuracy")
	for _, record := range validLines {
		best = max(best, metric(t, record.Valid, "accuracy"))
		require.NotNil(t, record.Valid.Impatience)
		require.NotNil(t, record.Valid.PatienceLimit)
		assert.Equal(t, 3, *record.Valid.PatienceLimit)
	}
	finalValid, finalTest := records[len(records)-2].Valid, records[len(records)-1].Test
	assert.Equal(t, best, metric(t, finalValid, "accuracy"))
	assert.Nil(t, finalValid.Impatience)
	assert.Equal(t, 4, finalValid.ExamplesSeen)
	assert.Equal(t, 2, finalTest.ExamplesSeen)
	assert.Equal(t, []string{"accuracy", "f1_macro"}, finalTest.Metrics.Names())

	dir := filepath.Dir(configPath)
	for _, saved := range []string{"model", filepath.Join("vocabs", "labels")} {
		handler, err := checkpoints.Load().Dir(filepath.Join(dir, saved)).Done()
		require.NoError(t, err, "checkpoint %q", saved)
		assert.True(t, must.M1(handler.HasCheckpoints()))
	}
}

func TestRunInterrupted(t *testing.T) {
	configPath := setup(t, `{"name": "perceptron", "save_path": "model"}`,
		`{"val_every_n_epochs": 1, "validate_best": false}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	records, err := runExperiment(t, ctx, configPath)
	require.NoError(t, err, "interruption is not an error")

	// The model is saved at the end and evaluated, even though it was never trained.
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Test)
	assert.Equal(t, 0.5, metric(t, records[0].Test, "accuracy"), "untrained perceptron always predicts \"high\"")
}

func TestRunWholeDatasetFit(t *testing.T) {
	configPath := setup(t, `{"name": "nearest_centroid", "save_path": "model"}`, "")
	records, err := runExperiment(t, context.Background(), configPath)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.NotNil(t, records[0].Valid)
	require.NotNil(t, records[1].Test)
	assert.Equal(t, 1.0, metric(t, records[0].Valid, "accuracy"))
	assert.Equal(t, 1.0, metric(t, records[1].Test, "accuracy"))
	assert.Equal(t, []string{"accuracy"}, records[0].Valid.Metrics.Names(), "default metrics")
}

func TestRunLegacyAndNotTrainable(t *testing.T) {
	configPath := setup(t, `{"name": "majority", "save_path": "model"}`, `{"metrics": ["error_rate"]}`)
	records, err := runExperiment(t, context.Background(), configPath)
	require.NoError(t, err)
	assert.Empty(t, records, "legacy training has no reports")
	_, err = checkpoints.Load().Dir(filepath.Join(filepath.Dir(configPath), "model")).Done()
	require.NoError(t, err, "majority saves itself")

	configPath = setup(t, `{"name": "constant", "label": "low"}`, `{"validate_best": true}`)
	records, err = runExperiment(t, context.Background(), configPath)
	require.NoError(t, err)
	assert.Empty(t, records, "not trainable model: no training, no evaluation")
}

func TestRunConfigErrors(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name, model, train string
		trainSectionError  bool
	}{
		{"unknown model", `{"name": "svm"}`, `{}`, false},
		{"unknown metric", `{"name": "nearest_centroid", "save_path": "m"}`, `{"metrics": ["accuracy", "bleu"]}`, true},
		{"unknown train option", `{"name": "nearest_centroid", "save_path": "m"}`, `{"epochs": 1, "patience": 2}`, true},
		{"bad optimization", `{"name": "nearest_centroid", "save_path": "m"}`, `{"metric_optimization": "max"}`, true},
		{"bad train section", `{"name": "nearest_centroid", "save_path": "m"}`, `[1, 2]`, true},
		{"unknown model parameter", `{"name": "nearest_centroid", "save_path": "m", "k": 1}`, `{}`, false},
		{"validation without metrics", `{"name": "perceptron", "save_path": "m"}`, `{"metrics": [], "val_every_n_epochs": 1}`, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			configPath := setup(t, tc.model, tc.train)
			records, err := runExperiment(t, ctx, configPath)
			require.ErrorIs(t, err, train.ErrConfig)
			assert.Empty(t, records)
			if tc.trainSectionError {
				// Errors in the train section are found before the vocabularies are fitted and saved.
				assert.NoDirExists(t, filepath.Join(filepath.Dir(configPath), "vocabs"))
			}
		})
	}

	// Errors in the dataset and vocabulary sections.
	for _, tc := range []struct {
		name, config string
	}{
		{"unknown reader", `{"dataset_reader": {"name": "parquet"}, "model": {"name": "constant", "label": "a"}}`},
		{"unknown dataset", `{"dataset_reader": {"name": "csv", "data_path": "."}, "dataset": {"name": "streaming"},
			"model": {"name": "constant", "label": "a"}}`},
		{"vocab not fitted", `{"dataset_reader": {"name": "csv", "data_path": "."},
			"vocabs": {"labels": {"name": "constant", "label": "a"}}, "model": {"name": "constant", "label": "a"}}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tc.config), t.TempDir())
			require.NoError(t, err)
			env := DefaultEnv()
			env.Stdout = &bytes.Buffer{}
			require.ErrorIs(t, Run(ctx, cfg, env), train.ErrConfig)
		})
	}
}

func TestRunLoopHooks(t *testing.T) {
	configPath := setup(t, `{"name": "perceptron", "save_path": "model"}`,
		`{"epochs": 2, "val_every_n_epochs": 1, "validate_best": false, "test_best": false}`)
	cfg := must.M1(LoadConfig(configPath))
	env := DefaultEnv()
	env.Stdout = &bytes.Buffer{}
	var steps, validations int
	env.LoopHooks = func(loop train.Observable) {
		loop.OnStep("count", 0, func(state *train.State) error {
			steps++
			return nil
		})
		loop.OnValidation("count", 0, func(state *train.State, report *train.EvalReport) error {
			validations++
			return nil
		})
	}
	require.NoError(t, Run(context.Background(), cfg, env))
	assert.Equal(t, 18, steps, "9 examples, batch size 1, 2 epochs")
	assert.Equal(t, 2, validations)
}

func TestRunOnReport(t *testing.T) {
	configPath := setup(t, `{"name": "nearest_centroid", "save_path": "model"}`, `{"test_best": false}`)
	cfg := must.M1(LoadConfig(configPath))
	env := DefaultEnv()
	var buf bytes.Buffer
	env.Stdout = &buf
	var splits []string
	env.OnReport = func(split string, report *train.EvalReport) error {
		splits = append(splits, split)
		assert.Equal(t, 4, report.ExamplesSeen)
		return nil
	}
	require.NoError(t, Run(context.Background(), cfg, env))
	assert.Equal(t, []string{train.SplitValid}, splits)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
}

// batchRecorder wraps a model loaded for inference, recording the size of the batches it's given.
type batchRecorder struct {
	train.Inferer[[]float64, string]
	batchSizes *[]int
}

func (r batchRecorder) Infer(inputs [][]float64) ([]string, error) {
	*r.batchSizes = append(*r.batchSizes, len(inputs))
	return r.Inferer.Infer(inputs)
}

func TestRunEvaluationBatchSize(t *testing.T) {
	for _, tc := range []struct {
		name, train string
		want        []int
	}{
		{"batch size not set", `{"epochs": 3}`, []int{4, 2}},
		{"batch size set", `{"batch_size": 3}`, []int{3, 1, 2}},
		{"null batch size", `{"batch_size": null}`, []int{4, 2}},
		{"missing train section", "", []int{4, 2}},
		{"null train section", "null", []int{4, 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			configPath := setup(t, `{"name": "recorded_centroid", "save_path": "model"}`, tc.train)
			cfg := must.M1(LoadConfig(configPath))
			env := DefaultEnv()
			env.Stdout = &bytes.Buffer{}
			var batchSizes []int
			env.Models.Register("recorded_centroid", func(params json.RawMessage, vocabs models.Vocabs, mode models.Mode) (any, error) {
				model, err := models.NewNearestCentroid(params, vocabs, mode)
				if err != nil || mode != models.ModeInfer {
					return model, err
				}
				return batchRecorder{Inferer: model.(train.Inferer[[]float64, string]), batchSizes: &batchSizes}, nil
			})
			var splits []string
			env.OnReport = func(split string, report *train.EvalReport) error {
				splits = append(splits, split)
				return nil
			}
			require.NoError(t, Run(context.Background(), cfg, env))
			assert.Equal(t, []string{train.SplitValid, train.SplitTest}, splits, "defaults validate and test the best model")
			assert.Equal(t, tc.want, batchSizes)
		})
	}
}
