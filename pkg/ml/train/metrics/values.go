// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// Value is one computed metric.
type Value struct {
	Name  string
	Score float64
}

// Values is an ordered list of computed metrics. It marshals to a JSON object whose
// keys keep the order of the list. Non-finite scores are written as null.
type Values []Value

// Get returns the score of the named metric.
func (v Values) Get(name string) (score float64, found bool) {
	for _, value := range v {
		if value.Name == name {
			return value.Score, true
		}
	}
	return 0, false
}

// Names returns the metric names in order.
func (v Values) Names() []string {
	names := make([]string, len(v))
	for ii, value := range v {
		names[ii] = value.Name
	}
	return names
}

// MarshalJSON implements json.Marshaler.
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for ii, value := range v {
		if ii > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(value.Name)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal metric name %q", value.Name)
		}
		buf.Write(key)
		buf.WriteByte(':')
		if math.IsNaN(value.Score) || math.IsInf(value.Score, 0) {
			buf.WriteString("null")
			continue
		}
		buf.WriteString(strconv.FormatFloat(value.Score, 'g', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the order of the keys. A null score becomes NaN.
func (v *Values) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	token, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "failed to parse metrics")
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return errors.Errorf("metrics must be a JSON object, got %v", token)
	}
	values := Values{}
	for dec.More() {
		token, err = dec.Token()
		if err != nil {
			return errors.Wrap(err, "failed to parse metric name")
		}
		name := token.(string)
		var score *float64
		if err = dec.Decode(&score); err != nil {
			return errors.Wrapf(err, "failed to parse score of metric %q", name)
		}
		value := Value{Name: name, Score: math.NaN()}
		if score != nil {
			value.Score = *score
		}
		values = append(values, value)
	}
	*v = values
	return nil
}
