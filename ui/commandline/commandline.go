// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains convenience UI training tools for the command line.
package commandline

import (
	"fmt"
	"io"

	"github.com/gomlx/batchtrain/pkg/ml/train"
)

// ReportEval reports in a human-readable form the results of evaluating a model on a split.
func ReportEval(w io.Writer, split string, report *train.EvalReport) error {
	if _, err := fmt.Fprintf(w, "Results on %s (%d examples, %s):\n", split, report.ExamplesSeen, report.TimeSpent); err != nil {
		return err
	}
	for _, metric := range report.Metrics {
		if _, err := fmt.Fprintf(w, "\t%s: %.4g\n", metric.Name, metric.Score); err != nil {
			return err
		}
	}
	return nil
}
