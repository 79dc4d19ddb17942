// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/batchtrain/pkg/support/sets"
	"github.com/gomlx/batchtrain/pkg/support/xslices"
	"github.com/gomlx/batchtrain/ui/plots"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagMetrics = flag.Bool("metrics", false,
		fmt.Sprintf("Lists the metrics collected for plotting in file %q", plots.TrainingPlotFileName))
	flagMetricsLabels = flag.Bool("metrics_labels", false,
		fmt.Sprintf("Lists the metrics labels (short names) with their full description from file %q", plots.TrainingPlotFileName))
	flagMetricsNames = flag.String("metrics_names", "", "Regular expression that if matches the name or short name, the metric is included.")
	flagMetricsTypes = flag.String("metrics_types", "", "Comma-separate list of metric types (splits) to include in metrics reports.")
	flagPlot         = flag.String("plot", "", "If set, plots the selected metrics of all directories into the given image file.")
)

// MetricsFilter selects points by name or type. The zero value selects everything.
type MetricsFilter struct {
	Names *regexp.Regexp
	Types sets.Set[string]
}

// NewMetricsFilter from a regular expression matching names (or short names) and a comma-separated list of types.
// Empty values don't filter.
func NewMetricsFilter(namesRegexp, types string) (MetricsFilter, error) {
	var filter MetricsFilter
	if namesRegexp != "" {
		var err error
		filter.Names, err = regexp.Compile(namesRegexp)
		if err != nil {
			return filter, errors.Wrapf(err, "failed to compile -metrics_names=%q", namesRegexp)
		}
	}
	if types != "" {
		filter.Types = sets.MakeWith(strings.Split(types, ",")...)
	}
	return filter, nil
}

// Match returns whether the point is selected: it must match either the names or the types given.
func (f MetricsFilter) Match(point plots.Point) bool {
	if f.Names == nil && f.Types == nil {
		return true
	}
	foundName := f.Names != nil && (f.Names.MatchString(point.MetricName) || f.Names.MatchString(point.Short))
	foundType := f.Types != nil && f.Types.Has(point.MetricType)
	return foundName || foundType
}

// UnmatchedTypes returns the types selected by the filter that none of the points have, sorted.
func (f MetricsFilter) UnmatchedTypes(points []plots.Points) []string {
	if f.Types == nil {
		return nil
	}
	found := sets.Make[string]()
	for _, modelPoints := range points {
		modelPoints.Map(func(p *plots.Point) { found.Insert(p.MetricType) })
	}
	return sets.Sorted(f.Types.Sub(found))
}

func metrics(checkpointPaths, names []string) {
	filter := must.M1(NewMetricsFilter(*flagMetricsNames, *flagMetricsTypes))
	points := make([]plots.Points, len(checkpointPaths))
	var foundSomething bool
	for ii, checkpointPath := range checkpointPaths {
		raw, err := plots.LoadPointsFromCheckpoint(checkpointPath)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			panic(err)
		}
		points[ii] = plots.NewPoints(raw)
		points[ii].Filter(filter.Match)
		foundSomething = foundSomething || len(points[ii]) > 0
	}
	if unmatched := filter.UnmatchedTypes(points); len(unmatched) > 0 {
		klog.Warningf("No metrics of types %q found", unmatched)
	}
	if !foundSomething {
		klog.Errorf("No metrics found in file %q in paths %v", plots.TrainingPlotFileName, checkpointPaths)
		return
	}

	if *flagMetricsLabels {
		fmt.Println(titleStyle.Render("Metrics Labels"))
		fmt.Println(MetricsLabels(points).Render())
	}
	if *flagMetrics {
		fmt.Println(titleStyle.Render("Metrics Table"))
		fmt.Println(MetricsTable(points, names).Render())
	}
	if *flagPlot != "" {
		must.M(PlotMetrics(points, names, *flagPlot))
		klog.Infof("Metrics plotted in %q", *flagPlot)
	}
}

// MetricsLabels returns a table of the short names and the full names of the metrics.
func MetricsLabels(points []plots.Points) *lgtable.Table {
	shortToName := make(map[string]string)
	for _, modelPoints := range points {
		modelPoints.Map(func(p *plots.Point) { shortToName[p.Short] = p.MetricName })
	}
	table := newPlainTable(true, lipgloss.Center, lipgloss.Left)
	table.Headers("Short", "MetricName")
	for _, short := range xslices.SortedKeys(shortToName) {
		table.Row(short, shortToName[short])
	}
	return table
}

// column of the metrics table: a metric of one of the models.
type column struct {
	model      int
	metricName string
}

// MetricsTable returns a table with one row per epoch, and one column per model and metric.
func MetricsTable(points []plots.Points, names []string) *lgtable.Table {
	var columns []column
	epochs := sets.Make[float64]()
	for model, modelPoints := range points {
		for _, metricName := range modelPoints.MetricsNames() {
			columns = append(columns, column{model, metricName})
		}
		for epoch := range modelPoints {
			epochs.Insert(epoch)
		}
	}
	slices.SortStableFunc(columns, func(a, b column) int { return strings.Compare(a.metricName, b.metricName) })

	table := newPlainTable(true, lipgloss.Right)
	header := []string{"Epoch"}
	for _, col := range columns {
		if len(points) == 1 {
			header = append(header, col.metricName)
		} else {
			header = append(header, fmt.Sprintf("%s: %s", names[col.model], col.metricName))
		}
	}
	table.Headers(header...)
	for _, epoch := range sets.Sorted(epochs) {
		row := make([]string, 1+len(columns))
		row[0] = humanize.Comma(int64(epoch))
		for ii, col := range columns {
			for _, pt := range points[col.model][epoch] {
				if pt.MetricName == col.metricName {
					row[ii+1] = fmt.Sprintf("%.4g", pt.Value)
				}
			}
		}
		table.Row(row...)
	}
	return table
}

// PlotMetrics of all models into one image. With more than one model, the metric names are prefixed by the
// model name.
func PlotMetrics(points []plots.Points, names []string, filePath string) error {
	png := plots.NewPNG("Metrics")
	for model, modelPoints := range points {
		for _, pt := range modelPoints.Extract() {
			if len(points) > 1 {
				pt.MetricName = fmt.Sprintf("%s: %s", names[model], pt.MetricName)
			}
			png.AddPoint(pt)
		}
		png.DynamicSampleDone(false)
	}
	return png.Save(filePath)
}
