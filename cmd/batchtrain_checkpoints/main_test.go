// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/gomlx/batchtrain/ui/plots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinimalUniquePaths(t *testing.T) {
	assert.Equal(t, []string{"/a/runs/x"}, MinimalUniquePaths("/a/runs/x"))
	assert.Equal(t, []string{"x", "y"}, MinimalUniquePaths("/a/runs/x", "/a/runs/y"))
	assert.Equal(t, []string{"r1", "r2"}, MinimalUniquePaths("/a/r1/model", "/a/r2/model"))
	assert.Equal(t, []string{"r1...m1", "r2...m2"}, MinimalUniquePaths("/a/r1/m1", "/a/r2/m2"))
	assert.Equal(t, []string{"b", "c"}, MinimalUniquePaths("/a/b", "/a/b/c"))
}

func TestDirInfo(t *testing.T) {
	dir := t.TempDir()
	empty, err := LoadDirInfo(filepath.Join(dir, "empty"))
	require.NoError(t, err)
	assert.Nil(t, empty.Latest())

	modelDir := filepath.Join(dir, "model")
	handler, err := checkpoints.Build().Dir(modelDir).Keep(2).Done()
	require.NoError(t, err)
	for ii := range 3 {
		require.NoError(t, handler.Save(map[string]int{"step": ii}))
	}
	info, err := LoadDirInfo(modelDir)
	require.NoError(t, err)
	require.Len(t, info.Checkpoints, 2)
	latest := info.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, 2, latest.Metadata.Count)
	assert.Equal(t, handler.RunID(), latest.Metadata.RunID)
	assert.Greater(t, latest.Bytes, int64(0))

	summary := Summary([]*DirInfo{info, empty}, []string{"model", "empty"}).Render()
	assert.Contains(t, summary, "# checkpoints")
	assert.Contains(t, summary, latest.BaseName)
	assert.Contains(t, summary, "-")
	list := List([]*DirInfo{info, empty}, []string{"model", "empty"}).Render()
	assert.Contains(t, list, info.Checkpoints[0].BaseName)
	assert.Contains(t, list, latest.BaseName)
}

func TestMetricsReports(t *testing.T) {
	raw := []plots.Point{
		{MetricName: "accuracy on valid", Short: "accuracy", MetricType: "valid", Step: 1, Value: 0.25},
		{MetricName: "f1_macro on valid", Short: "f1_macro", MetricType: "valid", Step: 1, Value: 0.125},
		{MetricName: "accuracy on valid", Short: "accuracy", MetricType: "valid", Step: 2, Value: 0.75},
	}

	filter, err := NewMetricsFilter("", "")
	require.NoError(t, err)
	assert.True(t, filter.Match(raw[1]))
	filter, err = NewMetricsFilter("^acc", "")
	require.NoError(t, err)
	assert.True(t, filter.Match(raw[0]))
	assert.False(t, filter.Match(raw[1]))
	filter, err = NewMetricsFilter("", "test,valid")
	require.NoError(t, err)
	assert.True(t, filter.Match(raw[1]))
	_, err = NewMetricsFilter("(", "")
	require.Error(t, err)

	points := []plots.Points{plots.NewPoints(raw), plots.NewPoints(raw[:1])}
	table := MetricsTable(points, []string{"lr1", "lr2"}).Render()
	assert.Contains(t, table, "lr1: accuracy on valid")
	assert.Contains(t, table, "lr2: accuracy on valid")
	assert.Contains(t, table, "0.75")
	labels := MetricsLabels(points).Render()
	assert.Contains(t, labels, "f1_macro on valid")
	assert.Equal(t, []string{"test"}, filter.UnmatchedTypes(points))
	assert.Nil(t, MetricsFilter{}.UnmatchedTypes(points))

	plotPath := filepath.Join(t.TempDir(), "metrics.png")
	require.NoError(t, PlotMetrics(points, []string{"lr1", "lr2"}, plotPath))
	fi, err := os.Stat(plotPath)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestBackupLatest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	assert.Panics(t, func() { BackupLatest(dir) }, "no checkpoints to back up")

	handler, err := checkpoints.Build().Dir(dir).Done()
	require.NoError(t, err)
	require.NoError(t, handler.Save(map[string]int{"step": 1}))
	backupDir := BackupLatest(dir)
	assert.Equal(t, filepath.Join(dir, checkpoints.BackupDir), backupDir)
	assert.NotPanics(t, func() { BackupLatest(dir) }, "backing up the same checkpoint again")

	// The backup survives the rotation of checkpoints.
	require.NoError(t, handler.Save(map[string]int{"step": 2}))
	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "binary and metadata files")
	BackupLatest(dir)
	entries, err = os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
}
