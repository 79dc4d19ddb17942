// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/batchtrain/pkg/ml/train"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ExtraMetricFn is any function that will give extra values to display along the progress bar.
// It is called at each time the progress bar is updated, and it should return a name and the current value when it is called.
type ExtraMetricFn func() (name, value string)

// RefreshPeriod is the time between terminal updates.
var RefreshPeriod = time.Second * 3

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBarName is the name of the hooks registered by AttachProgressBar.
const ProgressBarName = "batchtrain.ui.commandline.progressBar"

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor  = "#705090"
)

// maxUpdateFrequency is the time between updates to the commandline display of stats.
const maxUpdateFrequency = time.Millisecond * 200

// progressBar holds a progressbar being displayed.
type progressBar struct {
	w                io.Writer
	lastStepReported int
	bar              *progressbar.ProgressBar

	// lipgloss-based rich and asynchronous display for the command-line.
	termenv          *termenv.Output
	statsStyle       lipgloss.Style
	statsTable       *lgtable.Table
	isFirstOutput    bool
	updates          chan progressBarUpdate
	asyncUpdatesDone sync.WaitGroup

	extraMetricFns []ExtraMetricFn
}

// progressBarUpdate is a snapshot of the loop state: the display goroutine never reads the State itself.
type progressBarUpdate struct {
	amount int
	rows   [][2]string
}

// snapshot of the loop state, as rows of the stats table.
func snapshot(state *train.State) (rows [][2]string) {
	rows = append(rows,
		[2]string{"Batches", humanize.Comma(int64(state.BatchesSeen))},
		[2]string{"Epochs done", humanize.Comma(int64(state.EpochsDone))},
		[2]string{"Examples seen", humanize.Comma(int64(state.ExamplesSeen))},
	)
	if state.BestMetric != "" {
		rows = append(rows,
			[2]string{"Best " + state.BestMetric, fmt.Sprintf("%.4g", state.Best)},
			[2]string{"Impatience", fmt.Sprintf("%d", state.Impatience)})
	}
	rows = append(rows, [2]string{"Median batch duration", FormatDuration(state.MedianBatchDuration())})
	return
}

func (pBar *progressBar) onStart(state *train.State) error {
	pBar.lastStepReported = state.BatchesSeen
	// The number of batches is not known in advance: -1 makes it a spinner, only redrawn by pBar.draw.
	pBar.bar = progressbar.NewOptions(-1,
		progressbar.OptionSetSpinnerChangeInterval(0),
		progressbar.OptionSetDescription("      [bold]"),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("batches"),
		progressbar.OptionSetTheme(ProgressbarStyle),
		progressbar.OptionSetWriter(pBar.w),
	)
	return nil
}

func (pBar *progressBar) onStep(state *train.State) error {
	amount := state.BatchesSeen - pBar.lastStepReported
	if amount <= 0 {
		return nil
	}
	pBar.updates <- progressBarUpdate{amount: amount, rows: snapshot(state)}
	pBar.lastStepReported = state.BatchesSeen
	return nil
}

func (pBar *progressBar) onValidation(state *train.State, _ *train.EvalReport) error {
	// Show the new best and impatience, even if no batch was run since the last update.
	pBar.updates <- progressBarUpdate{rows: snapshot(state)}
	return nil
}

func (pBar *progressBar) onEnd(state *train.State) error {
	_ = pBar.onStep(state)
	close(pBar.updates)
	pBar.asyncUpdatesDone.Wait()
	pBar.termenv.ShowCursor()
	_, _ = fmt.Fprintln(pBar.w)
	return nil
}

// draw updates asynchronously: this is handy if the training is faster than the terminal, in particular
// if running on cloud, with a relatively slow network connection.
func (pBar *progressBar) draw() {
	defer pBar.asyncUpdatesDone.Done()
	var numLinesPrinted int
	for update := range pBar.updates {
		// Exhaust the updates in the buffer:
		amount := update.amount
	exhaust:
		for {
			select {
			case newUpdate, ok := <-pBar.updates:
				if !ok {
					break exhaust
				}
				amount += newUpdate.amount
				update = newUpdate
			default:
				break exhaust
			}
		}

		// Create the table to be printed.
		pBar.statsTable.Data(lgtable.NewStringData())
		for _, row := range update.rows {
			pBar.statsTable.Row(row[0], row[1])
		}
		for _, extraMetric := range pBar.extraMetricFns {
			name, value := extraMetric()
			pBar.statsTable.Row(name, value)
		}

		// We clear the previous lines that will be overwritten.
		pBar.termenv.HideCursor()
		if !pBar.isFirstOutput {
			pBar.termenv.CursorPrevLine(numLinesPrinted)
		}
		pBar.isFirstOutput = false

		// Rows, plus 2 lines of table borders, plus the progress bar line.
		numLinesPrinted = len(update.rows) + len(pBar.extraMetricFns) + 3
		_, _ = fmt.Fprintln(pBar.w, pBar.statsStyle.Render(pBar.statsTable.String()))
		_ = pBar.bar.Add(amount) // Prints progress bar line.
		_, _ = fmt.Fprint(pBar.w, "\033[J\n")
		pBar.termenv.ShowCursor()
		time.Sleep(maxUpdateFrequency)
	}
}

// AttachProgressBar creates a commandline progress bar and attaches it to the loop, so that
// everytime the loop is run, it will display on stderr a progress bar and a table with the
// batches, epochs and examples seen, the best validation score and the impatience so far.
//
// The associated data will be attached to the loop, so nothing is returned.
//
// Optionally, one can provide extraMetrics: functions that are called at every update of
// the progress bar and should return a name (title) and a value to be included in the
// updated print-out.
func AttachProgressBar(loop train.Observable, extraMetrics ...ExtraMetricFn) {
	attachProgressBar(loop, os.Stderr, extraMetrics...)
}

func attachProgressBar(loop train.Observable, w io.Writer, extraMetrics ...ExtraMetricFn) {
	pBar := &progressBar{
		w:              w,
		extraMetricFns: extraMetrics,
		isFirstOutput:  true,
		termenv:        termenv.NewOutput(w),
		statsStyle:     lipgloss.NewStyle().PaddingLeft(8),
		updates:        make(chan progressBarUpdate, 100), // Large buffer so things are not blocked.
	}
	pBar.statsTable = lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return rightAlignedStyle
			}
			return normalStyle
		})
	pBar.asyncUpdatesDone.Add(1)
	go pBar.draw()

	loop.OnStart(ProgressBarName, 0, pBar.onStart)
	// Frequent updates at the start, then at least every RefreshPeriod.
	train.ExponentialCallback(loop, 1, 2, false, ProgressBarName, 0, pBar.onStep)
	train.PeriodicCallback(loop, RefreshPeriod, false, ProgressBarName, 0, pBar.onStep)
	loop.OnValidation(ProgressBarName, 0, pBar.onValidation)
	loop.OnEnd(ProgressBarName, 0, pBar.onEnd)
}
