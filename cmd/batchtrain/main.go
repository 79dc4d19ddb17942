// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// batchtrain runs a training experiment described by a JSON configuration file.
//
// Reports are printed to stdout as JSON lines, one per interim training report, per validation
// and per final evaluation of the best saved model. Logs go to stderr.
//
// Example:
//
//	batchtrain -config=~/experiments/iris.json -set="epochs=20;batch_size=8" -progress -plot=/tmp/iris.png
//
// Interrupting it (Ctrl+C) stops the training gracefully: the model is saved and the best saved
// model is still evaluated.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gomlx/batchtrain/pkg/ml/experiment"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/gomlx/batchtrain/ui/commandline"
	"github.com/gomlx/batchtrain/ui/plots"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig   = flag.String("config", "", "Path to the JSON experiment configuration. Required.")
	flagProgress = flag.Bool("progress", false, "Display a progress bar and a table of the training state on stderr, "+
		"and a human-readable summary of the final evaluation.")
	flagPlot = flag.String("plot", "", "If set, plot the validation metrics into the given image file (e.g.: \"validation.png\"). "+
		"The points are also saved, as JSON lines, in the same directory in the file "+plots.TrainingPlotFileName+".")
)

func main() {
	settings := commandline.CreateTrainSettingsFlag("")
	klog.InitFlags(nil)
	flag.Parse()
	if *flagConfig == "" {
		klog.Errorf("Missing -config with the experiment configuration. See 'batchtrain -help'.")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	err := exceptions.TryCatch[error](func() { run(ctx, *settings) })
	if err != nil {
		klog.Errorf("Failed with error: %+v", err)
		klog.Flush()
		cancel()
		os.Exit(1)
	}
	klog.Flush()
}

// run the experiment. Errors are raised as panics, and caught by main.
func run(ctx context.Context, settings string) {
	cfg := must.M1(experiment.LoadConfig(*flagConfig))
	trainSection, paramsSet, err := commandline.ParseTrainSettings(cfg.Train, settings)
	must.M(err)
	cfg.Train = trainSection
	if len(cfg.Train) > 0 {
		trainCfg := must.M1(train.MergeConfig(cfg.Train))
		klog.V(1).Infof("Train options (\"*\" marks those set with -set):\n%s",
			commandline.SprintTrainConfig(trainCfg, paramsSet))
	}

	env := experiment.DefaultEnv()
	var plotPath string
	if *flagPlot != "" {
		plotPath = fsutil.MustReplaceTildeInDir(*flagPlot)
	}
	env.LoopHooks = func(loop train.Observable) {
		if *flagProgress {
			commandline.AttachProgressBar(loop)
		}
		if plotPath != "" {
			plots.AttachValidationPlot(loop, plotPath)
		}
	}
	if *flagProgress {
		env.OnReport = func(split string, report *train.EvalReport) error {
			return commandline.ReportEval(os.Stderr, split, report)
		}
	}
	must.M(experiment.Run(ctx, cfg, env))
}
