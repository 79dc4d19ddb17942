// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/pkg/errors"
)

// trainParams returns the default value of each train.Config option, by its JSON name.
// The default values are used to set the type to which the string values are parsed.
func trainParams() map[string]reflect.Value {
	defaults := reflect.ValueOf(train.DefaultConfig())
	params := make(map[string]reflect.Value, defaults.NumField())
	for ii := range defaults.NumField() {
		name, _, _ := strings.Cut(defaults.Type().Field(ii).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		params[name] = defaults.Field(ii)
	}
	return params
}

// ParseTrainSettings overlays settings on the train section of an experiment configuration -- typically
// the contents of a flag set by the user. The settings are a list separated by ";": e.g.:
// "epochs=3;batch_size=16;metrics=accuracy,f1_macro".
//
// The parameters must be options of train.Config, and their default values set the type to which the
// string values are parsed. Lists (metrics) are separated by ",". For integer types, "_" is removed:
// it allows one to enter large numbers using it as a separator, like in Go. E.g.: 1_000_000 = 1000000.
//
// A setting "file:<path>" reads the settings from a file, with new-lines working as ";" and lines
// starting with "#" are comments.
//
// It returns the new train section and the parameters set, in order. Unknown parameters and values
// that fail to parse are configuration errors (train.ErrConfig).
func ParseTrainSettings(section json.RawMessage, settings string) (newSection json.RawMessage, paramsSet []string, err error) {
	values := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(section)) > 0 {
		if err = json.Unmarshal(section, &values); err != nil {
			return nil, nil, errors.Wrapf(train.ErrConfig, "train section must be a JSON object: %v", err)
		}
	}
	params := trainParams()
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseTrainSetting(params, values, setting, paramsSet)
		if err != nil {
			return nil, nil, err
		}
	}
	if len(paramsSet) == 0 {
		return section, nil, nil
	}
	newSection, err = json.Marshal(values)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to encode train section")
	}
	return newSection, paramsSet, nil
}

func parseTrainSetting(params map[string]reflect.Value, values map[string]json.RawMessage, setting string,
	paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		// Read parameters from a file.
		var filePath string
		filePath, err = fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseTrainSetting(params, values, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	paramName, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Wrapf(train.ErrConfig, "can't parse setting %q: each setting requires the format \"<param>=<value>\"",
			setting)
		return
	}
	paramName = strings.TrimSpace(paramName)
	defaultValue, found := params[paramName]
	if !found {
		err = errors.Wrapf(train.ErrConfig, "can't set parameter %q: it is not a train option, known options are %q",
			paramName, slices.Sorted(maps.Keys(params)))
		return
	}

	var value any
	switch defaultValue.Kind() {
	case reflect.Int:
		value, err = strconv.Atoi(strings.ReplaceAll(valueStr, "_", ""))
	case reflect.Bool:
		value, err = strconv.ParseBool(valueStr)
	case reflect.String:
		value = valueStr
	case reflect.Slice:
		if defaultValue.Type().Elem().Kind() != reflect.String {
			err = errors.Errorf("don't know how to parse type %s", defaultValue.Type())
			break
		}
		list := []string{}
		for _, item := range strings.Split(valueStr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		value = list
	default:
		err = errors.Errorf("don't know how to parse type %s", defaultValue.Type())
	}
	if err != nil {
		err = errors.Wrapf(train.ErrConfig, "failed to parse value %q for parameter %q (default value is %#v): %v",
			valueStr, paramName, defaultValue.Interface(), err)
		return
	}
	values[paramName], err = json.Marshal(value)
	if err != nil {
		return
	}
	newParamsSet = append(newParamsSet, paramName)
	return
}

// CreateTrainSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the train options and their default values.
//
// The flag should be created before the call to `flags.Parse()`.
//
// Example usage:
//
//	func main() {
//		settings := commandline.CreateTrainSettingsFlag("")
//		flag.Parse()
//		cfg := must.M1(experiment.LoadConfig(*flagConfig))
//		var err error
//		cfg.Train, _, err = commandline.ParseTrainSettings(cfg.Train, *settings)
//		if err != nil { panic(err) }
//		...
//	}
func CreateTrainSettingsFlag(flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set train options, overriding the "train" section of the experiment configuration. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Options that can be set:`,
	}
	params := trainParams()
	for _, name := range slices.Sorted(maps.Keys(params)) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", name, params[name].Interface()))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintTrainConfig pretty-prints the values of the train options into a string, one per line.
// The options in paramsSet are marked with a "*".
func SprintTrainConfig(cfg train.Config, paramsSet []string) string {
	values := reflect.ValueOf(cfg)
	var parts []string
	for ii := range values.NumField() {
		name, _, _ := strings.Cut(values.Type().Field(ii).Tag.Get("json"), ",")
		mark := " "
		if slices.Contains(paramsSet, name) {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("\t%s %q: %v", mark, name, values.Field(ii).Interface()))
	}
	return strings.Join(parts, "\n")
}
