// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/batchtrain/pkg/ml/checkpoints"
	"github.com/pkg/errors"
)

// CheckpointInfo is the metadata of one checkpoint and the size of its files.
type CheckpointInfo struct {
	BaseName string
	Metadata *checkpoints.Metadata
	Bytes    int64
}

// DirInfo holds the checkpoints of one directory, older first. It's empty if none was saved.
type DirInfo struct {
	Dir         string
	Checkpoints []CheckpointInfo
}

// LoadDirInfo reads the metadata of all checkpoints in dir.
func LoadDirInfo(dir string) (*DirInfo, error) {
	info := &DirInfo{Dir: dir}
	handler, err := checkpoints.Load().Dir(dir).Done()
	if errors.Is(err, checkpoints.ErrNoCheckpoint) {
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	baseNames, err := handler.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	for _, baseName := range baseNames {
		metadata, err := handler.LoadMetadata(baseName)
		if err != nil {
			return nil, err
		}
		ckpt := CheckpointInfo{BaseName: baseName, Metadata: metadata}
		for _, suffix := range []string{checkpoints.JsonNameSuffix, checkpoints.BinDataSuffix} {
			fi, err := os.Stat(filepath.Join(dir, baseName+suffix))
			if err != nil {
				return nil, errors.Wrapf(err, "checkpoint %q in %q", baseName, dir)
			}
			ckpt.Bytes += fi.Size()
		}
		info.Checkpoints = append(info.Checkpoints, ckpt)
	}
	return info, nil
}

// Latest checkpoint, or nil if there are none.
func (info *DirInfo) Latest() *CheckpointInfo {
	if len(info.Checkpoints) == 0 {
		return nil
	}
	return &info.Checkpoints[len(info.Checkpoints)-1]
}

// Summary returns a table with one column per directory.
func Summary(infos []*DirInfo, names []string) *lgtable.Table {
	table := newPlainTable(false, lipgloss.Right, lipgloss.Left)
	table.Row(append([]string{"checkpoint"}, names...)...)
	rows := [][]string{{"# checkpoints"}, {"latest"}, {"run id"}, {"saved"}, {"state type"}, {"format"},
		{"state size"}, {"disk usage"}}
	for _, info := range infos {
		rows[0] = append(rows[0], humanize.Comma(int64(len(info.Checkpoints))))
		latest := info.Latest()
		if latest == nil {
			for ii := 1; ii < len(rows); ii++ {
				rows[ii] = append(rows[ii], "-")
			}
			continue
		}
		var diskUsage int64
		for _, ckpt := range info.Checkpoints {
			diskUsage += ckpt.Bytes
		}
		md := latest.Metadata
		rows[1] = append(rows[1], latest.BaseName)
		rows[2] = append(rows[2], md.RunID)
		rows[3] = append(rows[3], humanize.Time(md.SavedAt))
		rows[4] = append(rows[4], md.StateType)
		rows[5] = append(rows[5], md.BinFormat)
		rows[6] = append(rows[6], humanize.Bytes(uint64(md.Size)))
		rows[7] = append(rows[7], humanize.Bytes(uint64(diskUsage)))
	}
	for _, row := range rows {
		table.Row(row...)
	}
	return table
}

// List returns a table with one row per checkpoint.
func List(infos []*DirInfo, names []string) *lgtable.Table {
	table := newPlainTable(true, lipgloss.Left, lipgloss.Right, lipgloss.Left)
	table.Headers("Directory", "Count", "Checkpoint", "Saved at", "Run id", "Size")
	for ii, info := range infos {
		for _, ckpt := range info.Checkpoints {
			md := ckpt.Metadata
			table.Row(names[ii], humanize.Comma(int64(md.Count)), ckpt.BaseName,
				md.SavedAt.Format(time.DateTime), md.RunID, humanize.Bytes(uint64(ckpt.Bytes)))
		}
	}
	return table
}
