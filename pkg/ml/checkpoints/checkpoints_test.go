// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Step    int
	Weights map[string][]float64
	Labels  []string
}

func TestCheckpoints(t *testing.T) {
	for _, format := range []BinFormat{BinGZIP, BinUncompressed} {
		t.Run(format.String(), func(t *testing.T) {
			dir := path.Join(t.TempDir(), "model")
			checkpoint, err := Build().Dir(dir).Keep(3).WithCompression(format).Done()
			require.NoError(t, err)
			assert.Equal(t, 0, checkpoint.checkpointsCount)
			assert.NotEmpty(t, checkpoint.RunID())

			var loaded testState
			found, err := checkpoint.LoadLatest(&loaded)
			require.NoError(t, err)
			assert.False(t, found)

			for ii := range 10 {
				state := &testState{
					Step:    ii,
					Weights: map[string][]float64{"cat": {float64(ii), 0.5}},
					Labels:  []string{"cat", "dog"},
				}
				require.NoError(t, checkpoint.Save(state), "Saving checkpoint")
			}

			// Check the correct number of checkpoints (3) remain.
			list, err := checkpoint.ListCheckpoints()
			require.NoError(t, err)
			assert.Len(t, list, 3, "Number of remaining checkpoints")
			assert.Equal(t, 10, checkpoint.checkpointsCount)
			assert.Equal(t, 9, maxCheckPointCountFromCheckpoints(list))

			metadata, err := checkpoint.LoadMetadata(list[2])
			require.NoError(t, err)
			assert.Equal(t, checkpoint.RunID(), metadata.RunID)
			assert.Equal(t, 9, metadata.Count)
			assert.Equal(t, "*checkpoints.testState", metadata.StateType)
			assert.Equal(t, format.String(), metadata.BinFormat)

			// A new handler on the same directory reads the latest, and continues the count.
			reloaded, err := Load().Dir(dir).Done()
			require.NoError(t, err)
			assert.Equal(t, 10, reloaded.checkpointsCount)
			assert.NotEqual(t, checkpoint.RunID(), reloaded.RunID())
			found, err = reloaded.LoadLatest(&loaded)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, testState{
				Step:    9,
				Weights: map[string][]float64{"cat": {9, 0.5}},
				Labels:  []string{"cat", "dog"},
			}, loaded)

			require.NoError(t, reloaded.Backup())
			require.NoError(t, reloaded.Backup(), "backing up the same checkpoint twice")
			entries, err := os.ReadDir(path.Join(dir, BackupDir))
			require.NoError(t, err)
			assert.Len(t, entries, 2)
		})
	}
}

func TestKeepAll(t *testing.T) {
	checkpoint, err := Build().Dir(path.Join(t.TempDir(), "keep_all")).Keep(-1).Done()
	require.NoError(t, err)
	for ii := range 5 {
		require.NoError(t, checkpoint.Save(ii))
	}
	list, err := checkpoint.ListCheckpoints()
	require.NoError(t, err)
	assert.Len(t, list, 5)

	var first int
	require.NoError(t, checkpoint.LoadCheckpoint(list[0], &first))
	assert.Equal(t, 0, first)
}

func TestLoadRequiresCheckpoint(t *testing.T) {
	dir := t.TempDir()
	_, err := Load().Dir(path.Join(dir, "missing")).Done()
	require.ErrorIs(t, err, ErrNoCheckpoint)

	_, err = Load().Dir(dir).Done()
	require.ErrorIs(t, err, ErrNoCheckpoint)

	assert.Panics(t, func() { Load().Dir(dir).MustDone() })

	checkpoint, err := Build().Dir(path.Join(dir, "model")).Done()
	require.NoError(t, err)
	assert.Equal(t, path.Join(dir, "model"), checkpoint.Dir())
	require.ErrorIs(t, checkpoint.Backup(), ErrNoCheckpoint)
	require.NoError(t, checkpoint.Save("ok"))
	assert.NotPanics(t, func() { Load().Dir(path.Join(dir, "model")).MustDone() })

	_, err = Build().Done()
	require.Error(t, err, "no directory configured")
	_, err = Build().Dir(dir).Keep(0).Done()
	require.Error(t, err)

	filePath := path.Join(dir, "file")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))
	_, err = Build().Dir(filePath).Done()
	require.Error(t, err)
}

func TestParseBinFormat(t *testing.T) {
	for name, want := range map[string]BinFormat{"": BinGZIP, "gzip": BinGZIP, "uncompressed": BinUncompressed} {
		bf, err := ParseBinFormat(name)
		require.NoError(t, err, "format %q", name)
		assert.Equal(t, want, bf)
	}
	_, err := ParseBinFormat("zstd")
	require.ErrorIs(t, err, ErrUnsupportedCompression)
}
