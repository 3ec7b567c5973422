// Package pipeline wires the stages together: scan a directory of DICOM
// files, assemble the series, build the calibrated volume, and run the mesh
// extraction on a worker goroutine with progress reporting and cancellation.
// Decode, assembly, and volume construction run on the caller's goroutine;
// extraction is the one long CPU-bound stage and is always offloaded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"dicom3d/pkg/dicom"
	"dicom3d/pkg/mesh"
	"dicom3d/pkg/series"
	"dicom3d/pkg/volume"
)

// ErrNoInput is returned when a directory scan finds no DICOM files.
var ErrNoInput = errors.New("pipeline: no DICOM files found")

// Params configures one reconstruction run.
type Params struct {
	// InputDir is the directory scanned (recursively) for .dcm/.dicom
	// files.
	InputDir string

	// Iso is the extraction threshold in modality units; NaN selects the
	// volume's automatic estimate.
	Iso float64

	// ChunkSize overrides the extraction chunk side; zero keeps the
	// default.
	ChunkSize int

	// SmoothIterations is the number of Taubin passes over the extracted
	// surface.
	SmoothIterations int

	// Progress, when set, observes mesh extraction progress in [0,1].
	Progress func(float64)
}

// Result carries the products of a full run.
type Result struct {
	Series *series.Series
	Volume *volume.Volume
	Mesh   *mesh.Mesh

	// Iso is the threshold actually used.
	Iso float64
}

// LoadDirectory reads every DICOM file under dir into a RawSlice batch.
func LoadDirectory(dir string) ([]*dicom.RawSlice, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".dcm", ".dicom":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}
	if len(paths) == 0 {
		return nil, ErrNoInput
	}

	slices := make([]*dicom.RawSlice, 0, len(paths))
	for _, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read slice file: %w", err)
		}
		sl, err := dicom.ReadSlice(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
		}
		slices = append(slices, sl)
	}
	return slices, nil
}

// BuildVolume assembles the batch and calibrates it into a volume.
func BuildVolume(slices []*dicom.RawSlice) (*series.Series, *volume.Volume, error) {
	ser, err := series.Assemble(slices)
	if err != nil {
		return nil, nil, err
	}
	return ser, volume.Build(ser), nil
}

// GenerateMesh extracts and post-processes the iso-surface on a worker
// goroutine. The scalar field crosses into the worker read-only; the caller
// blocks until the worker hands the finished mesh back, and cancelling ctx
// stops the worker at the next chunk boundary.
func GenerateMesh(ctx context.Context, vol *volume.Volume, p Params) (*mesh.Mesh, error) {
	iso := p.Iso
	if math.IsNaN(iso) {
		iso = float64(vol.AutoIso)
	}

	type outcome struct {
		m   *mesh.Mesh
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		m, err := mesh.Extract(ctx, vol.Field, [3]int{vol.Width, vol.Height, vol.Depth}, vol.Mapper(), mesh.Options{
			Iso:       iso,
			ChunkSize: p.ChunkSize,
			Progress:  p.Progress,
		})
		if err == nil {
			mesh.Smooth(m, p.SmoothIterations)
			mesh.RecomputeNormals(m)
		}
		done <- outcome{m: m, err: err}
	}()

	out := <-done
	return out.m, out.err
}

// Run executes the whole pipeline for a directory.
func Run(ctx context.Context, p Params) (*Result, error) {
	slices, err := LoadDirectory(p.InputDir)
	if err != nil {
		return nil, err
	}
	ser, vol, err := BuildVolume(slices)
	if err != nil {
		return nil, err
	}

	iso := p.Iso
	if math.IsNaN(iso) {
		iso = float64(vol.AutoIso)
	}
	p.Iso = iso

	m, err := GenerateMesh(ctx, vol, p)
	if err != nil {
		return nil, err
	}
	return &Result{Series: ser, Volume: vol, Mesh: m, Iso: iso}, nil
}
