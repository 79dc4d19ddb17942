// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package experiment

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// Config of an experiment. Component sections (DatasetReader, Dataset, each of Vocabs and Model)
// are JSON objects with a `name`, that selects the component, plus the component's own parameters.
type Config struct {
	DatasetReader json.RawMessage            `json:"dataset_reader"`
	Dataset       json.RawMessage            `json:"dataset,omitempty"`
	Vocabs        map[string]json.RawMessage `json:"vocabs,omitempty"`
	Model         json.RawMessage            `json:"model"`

	// Train section overlays train.DefaultConfig. If missing, the defaults are used.
	Train json.RawMessage `json:"train,omitempty"`
}

// LoadConfig reads the experiment configuration from a JSON file.
//
// Parameters of the component sections whose key ends with "_path" (e.g.: "data_path",
// "save_path") are resolved relative to the directory of the file. A "~" prefix
// is replaced by the user's home directory.
func LoadConfig(filePath string) (*Config, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read experiment configuration from %q", filePath)
	}
	baseDir, err := filepath.Abs(filepath.Dir(filePath))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find directory of %q", filePath)
	}
	cfg, err := ParseConfig(data, baseDir)
	if err != nil {
		return nil, errors.WithMessagef(err, "experiment configuration %q", filePath)
	}
	return cfg, nil
}

// ParseConfig parses the JSON experiment configuration, resolving the "_path" parameters relative to baseDir.
// Unknown top-level keys and missing required sections are configuration errors.
func ParseConfig(data []byte, baseDir string) (*Config, error) {
	cfg := &Config{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(train.ErrConfig, "invalid experiment configuration: %v", err)
	}
	if len(cfg.DatasetReader) == 0 {
		return nil, errors.Wrapf(train.ErrConfig, "experiment configuration requires a \"dataset_reader\" section")
	}
	if len(cfg.Model) == 0 {
		return nil, errors.Wrapf(train.ErrConfig, "experiment configuration requires a \"model\" section")
	}
	var err error
	if cfg.DatasetReader, err = resolvePaths(cfg.DatasetReader, baseDir); err != nil {
		return nil, err
	}
	if cfg.Model, err = resolvePaths(cfg.Model, baseDir); err != nil {
		return nil, err
	}
	for name, section := range cfg.Vocabs {
		if cfg.Vocabs[name], err = resolvePaths(section, baseDir); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolvePaths rewrites the string parameters named "*_path" of a component section relative to baseDir.
func resolvePaths(section json.RawMessage, baseDir string) (json.RawMessage, error) {
	var params map[string]json.RawMessage
	if err := json.Unmarshal(section, &params); err != nil {
		return nil, errors.Wrapf(train.ErrConfig, "component section must be a JSON object, got %s", section)
	}
	changed := false
	for key, value := range params {
		if !strings.HasSuffix(key, "_path") {
			continue
		}
		var p string
		if err := json.Unmarshal(value, &p); err != nil || p == "" {
			continue
		}
		resolved, err := fsutil.ResolvePath(baseDir, p)
		if err != nil {
			return nil, err
		}
		if resolved != p {
			params[key], _ = json.Marshal(resolved)
			changed = true
		}
	}
	if !changed {
		return section, nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to re-encode component section")
	}
	return encoded, nil
}
