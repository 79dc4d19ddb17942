// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// batchtrain_checkpoints reports on the checkpoints saved by batchtrain models (their "save_path"),
// and on the validation metrics collected with `batchtrain -plot`.
//
// Example:
//
//	batchtrain_checkpoints -metrics ~/runs/perceptron_lr1 ~/runs/perceptron_lr0.1
//
// With -backup, the latest checkpoint of each directory is kept aside from the rotation of "keep_checkpoints".
//
// With more than one directory, the reports are given side by side, using the minimal unique
// part of their paths as their names.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/gomlx/batchtrain/pkg/support/xslices"
	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagSummary = flag.Bool("summary", true, "Display a summary of the checkpoints saved in each directory.")
	flagList    = flag.Bool("list", false, "Lists every checkpoint saved, with its metadata.")
	flagBackup  = flag.Bool("backup", false,
		fmt.Sprintf("Links the latest checkpoint of each directory into its %q subdirectory, where it's never removed.",
			checkpoints.BackupDir))
)

var titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing checkpoint directory to read from. See 'batchtrain_checkpoints -help'")
		os.Exit(1)
	}
	err := exceptions.TryCatch[error](func() { report(args) })
	if err != nil {
		klog.Errorf("Failed with error: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

func report(dirs []string) {
	paths := xslices.Map(dirs, func(dir string) string {
		dir = fsutil.MustReplaceTildeInDir(dir)
		if !fsutil.MustFileExists(dir) {
			klog.Warningf("Checkpoint directory %q doesn't exist", dir)
		}
		return dir
	})
	names := MinimalUniquePaths(paths...)
	if *flagBackup {
		for _, dir := range paths {
			klog.Infof("Backed up %q", BackupLatest(dir))
		}
	}
	if *flagSummary || *flagList {
		infos := xslices.Map(paths, func(dir string) *DirInfo { return must.M1(LoadDirInfo(dir)) })
		if *flagSummary {
			fmt.Println(titleStyle.Render("Summary"))
			fmt.Println(Summary(infos, names).Render())
		}
		if *flagList {
			fmt.Println(titleStyle.Render("Checkpoints"))
			fmt.Println(List(infos, names).Render())
		}
	}
	if *flagMetrics || *flagMetricsLabels || *flagPlot != "" {
		metrics(paths, names)
	}
}

// BackupLatest links the latest checkpoint in dir into the backup subdirectory, and returns the
// backup directory. It panics if dir has no checkpoints.
func BackupLatest(dir string) string {
	handler := checkpoints.Load().Dir(dir).MustDone()
	must.M(handler.Backup())
	return filepath.Join(handler.Dir(), checkpoints.BackupDir)
}
