// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/json"
	"math"
	"os"
	"path"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CSVReaderName is the name of the `dataset_reader` component implemented by ReadCSV.
const CSVReaderName = "csv"

// CSVConfig are the parameters of the `csv` dataset reader.
type CSVConfig struct {
	// DataPath is the directory with one CSV file per split. It can start with "~".
	DataPath string `json:"data_path"`

	// Files maps split names to file names in DataPath. If not given, "<split>.csv" is used for
	// the train, valid and test splits.
	Files map[string]string `json:"files"`

	// LabelColumn is the name of the column with the labels, read as strings.
	LabelColumn string `json:"label_column"`

	// FeatureColumns are the numeric columns used as inputs, in order. Defaults to every column but the label.
	FeatureColumns []string `json:"feature_columns"`

	// Delimiter of the fields, defaults to ",".
	Delimiter string `json:"delimiter"`
}

// DefaultCSVConfig returns the parameters used for options not given in the `dataset_reader` section.
func DefaultCSVConfig() CSVConfig {
	return CSVConfig{
		LabelColumn: "label",
		Delimiter:   ",",
	}
}

var _ Reader[[]float64, string] = ReadCSV

// ReadCSV is a Reader of CSV files with a header line: the numeric feature columns become the inputs
// and the label column the labels.
//
// A split whose file doesn't exist is left empty.
func ReadCSV(params json.RawMessage) (Splits[[]float64, string], error) {
	config := DefaultCSVConfig()
	if err := train.DecodeParams(params, &config); err != nil {
		return nil, errors.WithMessagef(err, "dataset reader %q", CSVReaderName)
	}
	if config.DataPath == "" {
		return nil, errors.Wrapf(train.ErrConfig, "dataset reader %q requires a data_path", CSVReaderName)
	}
	if len([]rune(config.Delimiter)) != 1 {
		return nil, errors.Wrapf(train.ErrConfig, "dataset reader %q: delimiter must be a single character, got %q",
			CSVReaderName, config.Delimiter)
	}
	if len(config.Files) == 0 {
		config.Files = make(map[string]string)
		for _, split := range []string{train.SplitTrain, train.SplitValid, train.SplitTest} {
			config.Files[split] = split + ".csv"
		}
	}
	dataPath, err := fsutil.ReplaceTildeInDir(config.DataPath)
	if err != nil {
		return nil, err
	}

	splits := make(Splits[[]float64, string])
	for split, fileName := range config.Files {
		filePath := path.Join(dataPath, fileName)
		exists, err := fsutil.FileExists(filePath)
		if err != nil {
			return nil, err
		}
		if !exists {
			klog.V(1).Infof("No file %q for split %q, it will be empty", filePath, split)
			continue
		}
		data, err := readCSVFile(filePath, &config)
		if err != nil {
			return nil, errors.WithMessagef(err, "reading split %q", split)
		}
		splits[split] = data
	}
	return splits, nil
}

// readCSVFile reads one split with gota.
func readCSVFile(filePath string, config *CSVConfig) (data train.Batch[[]float64, string], err error) {
	f, err := os.Open(filePath)
	if err != nil {
		return data, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.WithDelimiter([]rune(config.Delimiter)[0]),
		dataframe.WithTypes(map[string]series.Type{config.LabelColumn: series.String}))
	if df.Err != nil {
		return data, errors.Wrapf(df.Err, "failed to parse CSV file %q", filePath)
	}
	columns := df.Names()
	if !slices.Contains(columns, config.LabelColumn) {
		return data, errors.Wrapf(train.ErrConfig, "label_column %q not found in %q, columns are %q",
			config.LabelColumn, filePath, columns)
	}
	features := config.FeatureColumns
	if len(features) == 0 {
		for _, column := range columns {
			if column != config.LabelColumn {
				features = append(features, column)
			}
		}
	}

	numRows := df.Nrow()
	data.Inputs = make([][]float64, numRows)
	for row := range numRows {
		data.Inputs[row] = make([]float64, len(features))
	}
	for featureIdx, featureName := range features {
		if !slices.Contains(columns, featureName) {
			return data, errors.Wrapf(train.ErrConfig, "feature column %q not found in %q", featureName, filePath)
		}
		for row, value := range df.Col(featureName).Float() {
			if math.IsNaN(value) {
				return data, errors.Errorf("%q: column %q, row %d is not a number", filePath, featureName, row+1)
			}
			data.Inputs[row][featureIdx] = value
		}
	}
	data.Labels = df.Col(config.LabelColumn).Records()
	klog.V(1).Infof("Read %d examples with %d features from %q", numRows, len(features), filePath)
	return data, nil
}
