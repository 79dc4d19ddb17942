// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"math"

	"golang.org/x/exp/constraints"
)

// Number is a label type the regression metrics accept.
type Number interface {
	constraints.Integer | constraints.Float
}

// Names of the metrics in the library.
const (
	AccuracyName  = "accuracy"
	ErrorRateName = "error_rate"
	F1MacroName   = "f1_macro"
	MSEName       = "mse"
	MAEName       = "mae"
	RMSEName      = "rmse"
)

// Classification returns a Registry with the classification metrics: accuracy, error_rate and f1_macro.
func Classification[Y comparable]() *Registry[Y] {
	return NewRegistry[Y]().
		Register(AccuracyName, Accuracy[Y]).
		Register(ErrorRateName, ErrorRate[Y]).
		Register(F1MacroName, F1Macro[Y])
}

// Regression returns a Registry with the regression metrics: mse, mae and rmse.
func Regression[Y Number]() *Registry[Y] {
	return NewRegistry[Y]().
		Register(MSEName, MeanSquaredError[Y]).
		Register(MAEName, MeanAbsoluteError[Y]).
		Register(RMSEName, RootMeanSquaredError[Y])
}

// pairs returns the number of pairs to compare, the length of the shorter slice.
func pairs[Y any](yTrue, yPred []Y) int {
	return min(len(yTrue), len(yPred))
}

// Accuracy is the fraction of predictions equal to the true label. It is 0 if there are no examples.
func Accuracy[Y comparable](yTrue, yPred []Y) float64 {
	n := pairs(yTrue, yPred)
	if n == 0 {
		return 0
	}
	var correct int
	for ii := range n {
		if yTrue[ii] == yPred[ii] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// ErrorRate is the fraction of predictions different from the true label. It is 0 if there are no examples.
func ErrorRate[Y comparable](yTrue, yPred []Y) float64 {
	if pairs(yTrue, yPred) == 0 {
		return 0
	}
	return 1 - Accuracy(yTrue, yPred)
}

// F1Macro is the unweighted mean of the F1 score of every label seen either as true or predicted label.
// Labels with no true positives score 0.
func F1Macro[Y comparable](yTrue, yPred []Y) float64 {
	n := pairs(yTrue, yPred)
	if n == 0 {
		return 0
	}
	type counts struct{ truePositive, falsePositive, falseNegative int }
	perLabel := make(map[Y]*counts)
	get := func(label Y) *counts {
		c, found := perLabel[label]
		if !found {
			c = &counts{}
			perLabel[label] = c
		}
		return c
	}
	for ii := range n {
		if yTrue[ii] == yPred[ii] {
			get(yTrue[ii]).truePositive++
			continue
		}
		get(yPred[ii]).falsePositive++
		get(yTrue[ii]).falseNegative++
	}
	var sum float64
	for _, c := range perLabel {
		if c.truePositive == 0 {
			continue
		}
		tp := float64(c.truePositive)
		precision := tp / (tp + float64(c.falsePositive))
		recall := tp / (tp + float64(c.falseNegative))
		sum += 2 * precision * recall / (precision + recall)
	}
	return sum / float64(len(perLabel))
}

// MeanSquaredError of the predictions. It is 0 if there are no examples.
func MeanSquaredError[Y Number](yTrue, yPred []Y) float64 {
	n := pairs(yTrue, yPred)
	if n == 0 {
		return 0
	}
	var sum float64
	for ii := range n {
		diff := float64(yPred[ii]) - float64(yTrue[ii])
		sum += diff * diff
	}
	return sum / float64(n)
}

// RootMeanSquaredError is the square root of MeanSquaredError.
func RootMeanSquaredError[Y Number](yTrue, yPred []Y) float64 {
	return math.Sqrt(MeanSquaredError(yTrue, yPred))
}

// MeanAbsoluteError of the predictions. It is 0 if there are no examples.
func MeanAbsoluteError[Y Number](yTrue, yPred []Y) float64 {
	n := pairs(yTrue, yPred)
	if n == 0 {
		return 0
	}
	var sum float64
	for ii := range n {
		sum += math.Abs(float64(yPred[ii]) - float64(yTrue[ii]))
	}
	return sum / float64(n)
}
