// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements checkpoint management: saving and loading of a model state to a
// directory of checkpoint files.
//
// The main object is the Handler, that should be created by calling Build (or Load), followed by the
// various options setting and finally calling Config.Done.
// As the model trains, one calls Handler.Save(state) every time a new checkpoint should be
// written, typically when the validation improves. For inference, the model is restored from the
// most recent checkpoint with Handler.LoadLatest.
//
// Each checkpoint is a pair of files with the same base name `checkpoint-n<count>-<time>`:
// a JSON metadata file (JsonNameSuffix) and the state itself (BinDataSuffix), JSON encoded and
// by default gzip compressed.
//
// Example: a model saving its parameters to `dir`, keeping the 3 most recent checkpoints:
//
//	checkpoint, err := checkpoints.Build().Dir(dir).Keep(3).Done()
//	if err != nil { … }
//	…
//	err = checkpoint.Save(&model.params)
//
// And to restore it, failing if there is no checkpoint:
//
//	checkpoint, err := checkpoints.Load().Dir(dir).Done()
//	if err != nil { … }
//	_, err = checkpoint.LoadLatest(&model.params)
package checkpoints

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gomlx/batchtrain/pkg/support/fsutil"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrNoCheckpoint is returned when a checkpoint is required but none was saved.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

// Config for the checkpoints' Handler to be created. This is created with Build() and
// configured with the various methods. Once finished, call Done() and it will output
// a checkpoints.Handler that loads (if there are any previously saved checkpoints) and
// saves checkpoints.
type Config struct {
	err error

	dir       string
	keep      int
	mustLoad  bool
	binFormat BinFormat
}

// Build a configuration for building a checkpoints.Handler. After configuring the
// Config object returned, call `Done` to get the configured checkpoints.Handler.
//
// The directory is created if it doesn't exist yet.
//
// See Config.Dir to specify where to load/save.
func Build() *Config {
	return &Config{keep: 1}
}

// Load creates the configuration to load a checkpoint.
// It's identical to Build, except it will fail if the checkpoint does not already exist.
//
// Use Dir to configure the location of the checkpoint.
// Once configured, call Config.Done to get the Handler.
func Load() *Config {
	c := Build()
	c.mustLoad = true
	return c
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Dir sets the directory where to save / load the checkpoints.
//
// It must be set before building the checkpoints.Handler.
func (c *Config) Dir(dir string) *Config {
	dir, err := fsutil.ReplaceTildeInDir(dir)
	if err != nil {
		c.setError(err)
		return c
	}
	c.dir = dir
	fi, err := os.Stat(dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", dir))
		return c
	}
	if err == nil && !fi.IsDir() {
		c.setError(errors.Errorf("checkpoint directory %q exists but it's a normal file, not a directory", dir))
		return c
	}
	if err == nil {
		// Directory exists, all fine.
		return c
	}
	if c.mustLoad {
		c.setError(errors.Wrapf(ErrNoCheckpoint, "checkpoint directory %q does not exist or cannot be accessed", dir))
		return c
	}

	// Create the directory.
	err = os.MkdirAll(dir, DirPermMode)
	if err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", dir))
	}
	return c
}

// Keep configures the number of checkpoint files to keep. If set to -1, it will never erase older checkpoints.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	if n == 0 || n < -1 {
		c.setError(errors.Errorf("checkpoints Keep(%d): it must be -1 (keep all) or > 0", n))
		return c
	}
	c.keep = n
	return c
}

// WithCompression sets the binary format to the provided value. The default configuration is BinGZIP.
func (c *Config) WithCompression(bf BinFormat) *Config {
	c.binFormat = bf
	if bf != BinGZIP && bf != BinUncompressed {
		c.binFormat = BinGZIP
	}
	return c
}

// Done creates a Handler with the current configuration. It returns an error if
// the configuration is invalid or if it's missing information.
//
// If configured with Load, it fails with ErrNoCheckpoint if no checkpoint was saved yet.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.dir == "" {
		return nil, errors.Errorf("directory for checkpoints not configured or empty")
	}
	handler := &Handler{config: c, runID: uuid.NewString()}
	checkpoints, err := handler.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	if len(checkpoints) == 0 && c.mustLoad {
		return nil, errors.Wrapf(ErrNoCheckpoint, "no checkpoints found in %q", c.dir)
	}
	handler.checkpointsCount = maxCheckPointCountFromCheckpoints(checkpoints) + 1
	return handler, nil
}

// MustDone constructs the checkpoints.Handler. It panics if there was an error.
func (c *Config) MustDone() *Handler {
	h, err := c.Done()
	if err != nil {
		panic(errors.WithMessage(err, "Failed to create checkpoints.Handler"))
	}
	return h
}

// Handler handles saving and loading of checkpoints of a model state. See an example in the
// package documentation.
//
// It is created and configured using Build() or Load(), followed by options setting and then calling
// Config.Done().
//
// The state can be any value that can be encoded to JSON: usually a pointer to a struct with the
// model parameters.
type Handler struct {
	config *Config

	// runID identifies the Handler that saved a checkpoint.
	runID string

	checkpointsCount int
}

// Metadata saved along each checkpoint.
type Metadata struct {
	// RunID of the Handler that saved the checkpoint: checkpoints saved by the same training run share it.
	RunID string

	// Count is the sequential number of the checkpoint in its directory.
	Count int

	SavedAt time.Time

	// StateType is the Go type of the saved state. It is informative.
	StateType string

	// BinFormat describes the format used by the binary file. It is informative.
	// The current valid values are "gzip" and "uncompressed".
	BinFormat string

	// Size of the encoded state, before compression.
	Size int
}

// String implements Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory of the checkpoints.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

// RunID returns the id of this Handler, saved in the metadata of the checkpoints it writes.
func (h *Handler) RunID() string {
	return h.runID
}

// newCheckpointBaseName returns the base name for the checkpoint files.
func (h *Handler) newCheckpointBaseName(now time.Time) string {
	return fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now.Format("20060102-150405"))
}

const (
	baseNamePrefix = "checkpoint-"

	// JsonNameSuffix for the JSON files returned by Handler.ListCheckpoints.
	JsonNameSuffix = ".json"

	// BinDataSuffix for the data files (holding the state) returned by Handler.ListCheckpoints.
	BinDataSuffix = ".bin"

	// BackupDir is the name of the (sub-)directory under the model checkpoints directory that holds
	// the backups. See Handler.Backup.
	BackupDir = "backup"
)

// ListCheckpoints returns the base file paths of the checkpoints in the directory in time order (older first).
//
// The actual paths are these base file paths suffixed with JsonNameSuffix and BinDataSuffix.
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	entries, err := os.ReadDir(h.config.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "%s listing checkpoints", h)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, JsonNameSuffix) {
			continue
		}
		baseName := fileName[:len(fileName)-len(JsonNameSuffix)]
		checkpoints = append(checkpoints, baseName)
	}
	sort.Strings(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest `checkpointCount` in the saved
// checkpoints -- so the next checkpoint saved uses this count+1.
//
// The input should be the output of Handler.ListCheckpoints.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxId := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindAllStringSubmatch(name, 1)
		if len(matches) != 1 || len(matches[0]) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[0][1])
		if err != nil {
			continue
		}
		if id > maxId {
			maxId = id
		}
	}
	return maxId
}

// Save a new checkpoint with the given state, and removes the oldest checkpoints beyond the
// configured Keep.
func (h *Handler) Save(state any) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to encode state %T", h, state)
	}
	now := time.Now()
	metadata := Metadata{
		RunID:     h.runID,
		Count:     h.checkpointsCount,
		SavedAt:   now,
		StateType: fmt.Sprintf("%T", state),
		BinFormat: h.config.binFormat.String(),
		Size:      len(encoded),
	}
	baseName := h.newCheckpointBaseName(now)
	h.checkpointsCount++ // Bump unique number.

	binFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	if err := writeStateFile(binFileName, h.config.binFormat, encoded); err != nil {
		return errors.WithMessagef(err, "%s: failed to write checkpoint data file %s", h, binFileName)
	}

	// The metadata file is written last: a checkpoint is only listed once it's complete.
	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	jsonFile, err := os.Create(jsonFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to create checkpoint metadata file %s", h, jsonFileName)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "\t")
	err = enc.Encode(&metadata)
	if err != nil {
		_ = jsonFile.Close()
		return errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", h, jsonFileName)
	}
	err = jsonFile.Close()
	if err != nil {
		return errors.Wrapf(err, "%s: failed to close checkpoint metadata file %s", h, jsonFileName)
	}
	klog.V(1).Infof("Saved checkpoint %q (%s)", path.Join(h.config.dir, baseName), humanize.Bytes(uint64(len(encoded))))
	return h.keepNCheckpoints()
}

// LoadLatest decodes the most recent checkpoint into state, which must be a pointer.
//
// It returns found=false, and leaves state untouched, if there are no checkpoints.
func (h *Handler) LoadLatest(state any) (found bool, err error) {
	list, err := h.ListCheckpoints()
	if err != nil {
		return false, err
	}
	if len(list) == 0 {
		return false, nil
	}
	return true, h.LoadCheckpoint(list[len(list)-1], state)
}

// LoadCheckpoint decodes the checkpoint with the given base name (as returned by ListCheckpoints) into
// state, which must be a pointer.
func (h *Handler) LoadCheckpoint(baseName string, state any) error {
	klog.V(1).Infof("loading: %q", baseName)
	binFileName := filepath.Join(h.config.dir, baseName+BinDataSuffix)
	f, err := os.Open(binFileName)
	if err != nil {
		return errors.Wrapf(err, "%s: failed to open checkpoint data file %s", h, binFileName)
	}
	defer func() { _ = f.Close() }()
	reader, err := getLoadStateReader(f)
	if err != nil {
		return errors.WithMessagef(err, "%s: failed to read checkpoint data file %s", h, binFileName)
	}
	if err = json.NewDecoder(reader).Decode(state); err != nil {
		return errors.Wrapf(err, "%s: failed to decode checkpoint %s into %T", h, baseName, state)
	}
	return nil
}

// LoadMetadata reads the metadata of the checkpoint with the given base name (as returned by ListCheckpoints).
func (h *Handler) LoadMetadata(baseName string) (*Metadata, error) {
	jsonFileName := filepath.Join(h.config.dir, baseName+JsonNameSuffix)
	contents, err := os.ReadFile(jsonFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: failed to read checkpoint metadata file %s", h, jsonFileName)
	}
	var metadata Metadata
	if err = json.Unmarshal(contents, &metadata); err != nil {
		return nil, errors.Wrapf(err, "%s: failed to decode checkpoint metadata file %s", h, jsonFileName)
	}
	return &metadata, nil
}

// Backup links the most recent checkpoint files into the BackupDir subdirectory, where they are
// not removed by Keep. Backing up a checkpoint already in BackupDir is a no-op.
func (h *Handler) Backup() error {
	baseNames, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "failed Backup() finding current checkpoints")
	}
	if len(baseNames) == 0 {
		return errors.Wrapf(ErrNoCheckpoint, "there are no saved checkpoints in %q: maybe call Save() before Backup() ?", h.Dir())
	}
	baseName := baseNames[len(baseNames)-1]
	backupDir := path.Join(h.Dir(), BackupDir)
	err = os.MkdirAll(backupDir, DirPermMode)
	if err != nil {
		return errors.Wrapf(err, "trying to create dir %q", backupDir)
	}
	for _, suffix := range []string{BinDataSuffix, JsonNameSuffix} {
		srcFilePath := filepath.Join(h.config.dir, baseName+suffix)
		newPath := path.Join(backupDir, baseName+suffix)
		err := os.Link(srcFilePath, newPath)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "failed to link %q to %q", srcFilePath, newPath)
		}
	}
	return nil
}

func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(list) <= h.config.keep {
		return nil
	}

	list = list[:len(list)-h.config.keep]
	for _, baseName := range list {
		// Remove the metadata file first, so a partially removed checkpoint is not listed.
		for _, suffix := range []string{JsonNameSuffix, BinDataSuffix} {
			fileName := filepath.Join(h.config.dir, baseName+suffix)
			err = os.Remove(fileName)
			if err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
	}
	return nil
}
