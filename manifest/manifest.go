// Package manifest tracks the input files of a build: per-file status
// and point statistics, persisted as entwine-files.json under the
// endpoint root.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ProjectBarks/entwine/endpoint"
	"github.com/ProjectBarks/entwine/model"
)

// Path is the manifest object name under the endpoint root.
const Path = "entwine-files.json"

// Origin indexes one input file within the manifest.
type Origin = uint64

// InvalidOrigin is returned by lookups that find nothing.
const InvalidOrigin = ^Origin(0)

// Status is the lifecycle of one input file.
type Status string

const (
	// Outstanding files have not been processed yet.
	Outstanding Status = "outstanding"
	// Inserted files contributed their points.
	Inserted Status = "inserted"
	// Omitted files were skipped, e.g. entirely out of bounds.
	Omitted Status = "omitted"
	// Errored files failed to read or decode.
	Errored Status = "error"
)

// PointStats counts the fates of points.
type PointStats struct {
	Inserts     uint64 `json:"inserts"`
	OutOfBounds uint64 `json:"outOfBounds"`
	Overflows   uint64 `json:"overflows"`
}

// Add accumulates other into s.
func (s *PointStats) Add(other PointStats) {
	s.Inserts += other.Inserts
	s.OutOfBounds += other.OutOfBounds
	s.Overflows += other.Overflows
}

// FileStats counts the fates of files.
type FileStats struct {
	Inserts uint64 `json:"inserts"`
	Omits   uint64 `json:"omits"`
	Errors  uint64 `json:"errors"`
}

// Add accumulates other into s.
func (s *FileStats) Add(other FileStats) {
	s.Inserts += other.Inserts
	s.Omits += other.Omits
	s.Errors += other.Errors
}

// FileInfo describes one input file.
type FileInfo struct {
	Path      string        `json:"path"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Bounds    *model.Bounds `json:"bounds,omitempty"`
	NumPoints uint64        `json:"numPoints"`
	Stats     PointStats    `json:"pointStats"`
}

// NewFileInfo creates an outstanding entry for path.
func NewFileInfo(path string) FileInfo {
	return FileInfo{Path: path, Status: Outstanding}
}

// Files is the manifest: the ordered input list plus aggregate stats.
type Files struct {
	mu         sync.Mutex
	files      []FileInfo
	pointStats PointStats
	fileStats  FileStats
}

// NewFiles builds a manifest over the given entries, folding their
// stats into the aggregates.
func NewFiles(files []FileInfo) *Files {
	f := &Files{files: files}
	for i := range files {
		f.pointStats.Add(files[i].Stats)
		f.addStatus(files[i].Status)
	}
	return f
}

func (f *Files) addStatus(s Status) {
	switch s {
	case Inserted:
		f.fileStats.Inserts++
	case Omitted:
		f.fileStats.Omits++
	case Errored:
		f.fileStats.Errors++
	}
}

// Size is the number of input files.
func (f *Files) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// Get returns a copy of the entry at origin.
func (f *Files) Get(origin Origin) (FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if origin >= uint64(len(f.files)) {
		return FileInfo{}, fmt.Errorf("origin %d out of range", origin)
	}
	return f.files[origin], nil
}

// Find returns the origin of the first entry whose path contains
// search, or InvalidOrigin.
func (f *Files) Find(search string) Origin {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.files {
		if strings.Contains(f.files[i].Path, search) {
			return Origin(i)
		}
	}
	return InvalidOrigin
}

// Origin returns the origin of the entry with exactly the given path,
// or InvalidOrigin.
func (f *Files) Origin(path string) Origin {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.files {
		if f.files[i].Path == path {
			return Origin(i)
		}
	}
	return InvalidOrigin
}

// FindBounds returns the origins of entries whose recorded bounds
// overlap the query bounds.
func (f *Files) FindBounds(bounds model.Bounds) []Origin {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Origin
	for i := range f.files {
		if b := f.files[i].Bounds; b != nil && b.Overlaps(bounds) {
			out = append(out, Origin(i))
		}
	}
	return out
}

// SetStatus marks the entry at origin.
func (f *Files) SetStatus(origin Origin, status Status, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if origin >= uint64(len(f.files)) {
		return
	}
	f.files[origin].Status = status
	f.files[origin].Message = message
	f.addStatus(status)
}

// AddStats accumulates point stats onto the entry at origin and the
// aggregate.
func (f *Files) AddStats(origin Origin, stats PointStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if origin >= uint64(len(f.files)) {
		return
	}
	f.files[origin].Stats.Add(stats)
	f.files[origin].NumPoints += stats.Inserts
	f.pointStats.Add(stats)
}

// PointStats returns the aggregate point stats.
func (f *Files) PointStats() PointStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pointStats
}

// FileStats returns the aggregate file stats.
func (f *Files) FileStats() FileStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fileStats
}

// TotalPoints sums recorded per-file point counts.
func (f *Files) TotalPoints() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n uint64
	for i := range f.files {
		n += f.files[i].NumPoints
	}
	return n
}

// List returns a copy of the entries.
func (f *Files) List() []FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FileInfo, len(f.files))
	copy(out, f.files)
	return out
}

// Diff returns the entries of in whose paths are not present yet.
func (f *Files) Diff(in []FileInfo) []FileInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FileInfo
	for _, cand := range in {
		found := false
		for i := range f.files {
			if f.files[i].Path == cand.Path {
				found = true
				break
			}
		}
		if !found {
			out = append(out, cand)
		}
	}
	return out
}

// Append adds the entries of in that are not present yet.
func (f *Files) Append(in []FileInfo) {
	adding := f.Diff(in)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, adding...)
}

// Merge folds another manifest of the same build into f. The two must
// list the same files in the same order; any size or path mismatch
// aborts before touching f. Outstanding entries adopt the other side's
// terminal status.
func (f *Files) Merge(other *Files) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	if len(f.files) != len(other.files) {
		return fmt.Errorf("%w: sizes %d and %d cannot merge", ErrInvalid, len(f.files), len(other.files))
	}
	for i := range f.files {
		if f.files[i].Path != other.files[i].Path {
			return fmt.Errorf("%w: paths %q and %q disagree at origin %d",
				ErrInvalid, f.files[i].Path, other.files[i].Path, i)
		}
	}

	var fileStats FileStats
	for i := range f.files {
		ours := &f.files[i]
		theirs := &other.files[i]

		if ours.Status == Outstanding && theirs.Status != Outstanding {
			ours.Status = theirs.Status
			ours.Message = theirs.Message
			switch theirs.Status {
			case Inserted:
				fileStats.Inserts++
			case Omitted:
				fileStats.Omits++
			case Errored:
				fileStats.Errors++
			}
		}

		ours.Stats.Add(theirs.Stats)
		ours.NumPoints += theirs.NumPoints
	}

	f.pointStats.Add(other.pointStats)
	f.fileStats.Add(fileStats)
	return nil
}

type filesJSON struct {
	FileInfo   []FileInfo `json:"fileInfo"`
	PointStats PointStats `json:"pointStats"`
	FileStats  FileStats  `json:"fileStats"`
}

// Save persists the manifest.
func (f *Files) Save(ctx context.Context, ep endpoint.Endpoint) error {
	f.mu.Lock()
	blob, err := json.MarshalIndent(filesJSON{
		FileInfo:   f.files,
		PointStats: f.pointStats,
		FileStats:  f.fileStats,
	}, "", "  ")
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return ep.Put(ctx, Path, blob)
}

// Load reads the manifest from the endpoint. A missing manifest
// returns an empty one.
func Load(ctx context.Context, ep endpoint.Endpoint) (*Files, error) {
	blob, err := ep.Get(ctx, Path)
	if errors.Is(err, endpoint.ErrNotFound) {
		return NewFiles(nil), nil
	}
	if err != nil {
		return nil, err
	}

	var parsed filesJSON
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	out := &Files{
		files:      parsed.FileInfo,
		pointStats: parsed.PointStats,
		fileStats:  parsed.FileStats,
	}
	return out, nil
}
