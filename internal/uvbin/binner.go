// Package uvbin bins selected visibilities onto a regular (u,v) grid and
// writes the result as a measurement table with one row per grid cell.
//
// A run builds the grid coordinate system, creates (or recovers) the output
// table, accumulates every selected buffer into it and finally derives the
// scalar WEIGHT and SIGMA columns from the per-channel weight spectrum:
//
//	b, err := uvbin.New(spec)
//	ok, err := b.SelectData(ctx, "in.ms", msselect.Selection{Field: "0"})
//	b.SetOutputMS("grid.ms")
//	err = b.FillOutputMS(ctx, false)
package uvbin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/banshee-data/uvbin/internal/coordsys"
	"github.com/banshee-data/uvbin/internal/hostinfo"
	"github.com/banshee-data/uvbin/internal/monitoring"
	"github.com/banshee-data/uvbin/internal/msdb"
	"github.com/banshee-data/uvbin/internal/msselect"
	"github.com/banshee-data/uvbin/internal/timeutil"
	"github.com/banshee-data/uvbin/internal/version"
	"github.com/banshee-data/uvbin/internal/visbuf"
	"github.com/soniakeys/unit"
)

// DefaultOutMS is the output path used when SetOutputMS is never called.
const DefaultOutMS = "OutMS.ms"

const (
	speedOfLight = 299792458.0
	// Buffers whose channels sit further than this fraction from their output
	// channel centre are placed per channel.
	wideBandThreshold = 0.05
	// Rows per block for column-wise passes over the output table.
	ioBlockRows = 4096
	// Page cache, in KiB, kept on every table during a run.
	tileCacheKiB = 256
)

var (
	// ErrGridMismatch is returned when an existing output was binned with a
	// different grid shape.
	ErrGridMismatch = errors.New("grid mismatch")
	// ErrNoInput is returned by FillOutputMS before any SelectData succeeded.
	ErrNoInput = errors.New("no ms selected for input yet")
	// ErrNotBinned is returned when an existing output carries no grid record.
	ErrNotBinned = errors.New("output table carries no grid record")
)

// GridSpec is the immutable description of the output grid.
type GridSpec struct {
	PhaseCenter coordsys.Direction
	NX, NY      int
	NChan       int
	NPol        int
	CellX       unit.Angle
	CellY       unit.Angle
	FreqStart   float64 // Hz, centre of channel 0
	FreqStep    float64 // Hz

	// MemFraction is the share of free memory an in-memory cube may use.
	MemFraction float64
	WProjection bool
	// WPlanes fixes the number of w-planes; zero derives it from the field of view.
	WPlanes int
	// Workers bounds channel and w-plane parallelism; zero means GOMAXPROCS.
	Workers int
	// Padding scales the convolution grid relative to the image.
	Padding       float64
	RowsPerBuffer int
}

func (g *GridSpec) defaults() {
	if g.MemFraction == 0 {
		g.MemFraction = 0.5
	}
	if g.Workers <= 0 {
		g.Workers = runtime.GOMAXPROCS(0)
	}
	if g.Padding == 0 {
		g.Padding = 1
	}
	if g.RowsPerBuffer <= 0 {
		g.RowsPerBuffer = visbuf.DefaultRowsPerBuffer
	}
	if g.PhaseCenter.Frame == "" {
		g.PhaseCenter.Frame = "J2000"
	}
}

// Validate checks the grid description.
func (g GridSpec) Validate() error {
	if g.NX <= 0 || g.NY <= 0 {
		return fmt.Errorf("grid shape %d×%d must be positive", g.NX, g.NY)
	}
	if g.NChan <= 0 {
		return fmt.Errorf("nchan %d must be positive", g.NChan)
	}
	if g.NPol != 1 && g.NPol != 2 && g.NPol != 4 {
		return fmt.Errorf("npol must be 1, 2 or 4, got %d", g.NPol)
	}
	if g.CellX == 0 || g.CellY == 0 {
		return fmt.Errorf("cell sizes must be non-zero")
	}
	if g.FreqStart <= 0 {
		return fmt.Errorf("start frequency %g Hz must be positive", g.FreqStart)
	}
	if g.FreqStep == 0 {
		return fmt.Errorf("frequency step must be non-zero")
	}
	if g.MemFraction <= 0 || g.MemFraction > 1 {
		return fmt.Errorf("memory fraction %g must be in (0,1]", g.MemFraction)
	}
	if g.Padding < 1 {
		return fmt.Errorf("padding %g must be at least 1", g.Padding)
	}
	return nil
}

// RunState tracks progress through one FillOutputMS call.
type RunState int

const (
	StateUninitialized RunState = iota
	StateCoordsysBuilt
	StateOutputCreated
	StateOutputRecovered
	StateGridding
	StateWeightSynced
	StateGridInfoStored
)

func (s RunState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCoordsysBuilt:
		return "coordsys-built"
	case StateOutputCreated:
		return "output-created"
	case StateOutputRecovered:
		return "output-recovered"
	case StateGridding:
		return "gridding"
	case StateWeightSynced:
		return "weight-synced"
	case StateGridInfoStored:
		return "grid-info-stored"
	}
	return fmt.Sprintf("RunState(%d)", int(s))
}

// Binner owns the inputs, the output path and the state of a run.
type Binner struct {
	spec    GridSpec
	outPath string
	inputs  []visbuf.Input

	clock       timeutil.Clock
	memFreeKiB  func() uint64
	memTotalKiB func() uint64

	state     RunState
	csys      *coordsys.System
	grid      uvGrid
	existOut  bool
	out       *msdb.MS
	rotations map[coordsys.Direction]*coordsys.Rotation

	skippedFrames map[string]bool
}

// New validates spec and returns a Binner writing to DefaultOutMS.
func New(spec GridSpec) (*Binner, error) {
	spec.defaults()
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Binner{
		spec:        spec,
		outPath:     DefaultOutMS,
		clock:       timeutil.RealClock{},
		memFreeKiB:  hostinfo.MemoryFreeKiB,
		memTotalKiB: hostinfo.MemoryTotalKiB,
	}, nil
}

// Spec returns the grid description with defaults applied.
func (b *Binner) Spec() GridSpec { return b.spec }

// State returns the state reached by the last FillOutputMS call.
func (b *Binner) State() RunState { return b.state }

// CoordSys returns the coordinate system of the last run, or nil.
func (b *Binner) CoordSys() *coordsys.System { return b.csys }

// SetOutputMS sets the output table path.
func (b *Binner) SetOutputMS(path string) { b.outPath = path }

// OutputMS returns the output table path.
func (b *Binner) OutputMS() string { return b.outPath }

// SelectData opens the table at path and adds the rows matching sel to the
// inputs. It returns false, without error, when nothing matches.
func (b *Binner) SelectData(ctx context.Context, path string, sel msselect.Selection) (bool, error) {
	ms, err := msdb.Open(path, msdb.ModeOld)
	if err != nil {
		return false, fmt.Errorf("select %s: %w", path, err)
	}
	compiled, err := msselect.Compile(ctx, ms, sel)
	if err != nil {
		ms.Close()
		return false, fmt.Errorf("select %s: %w", path, err)
	}
	n, err := ms.CountRows(ctx, compiled.Where, compiled.Args...)
	if err != nil {
		ms.Close()
		return false, fmt.Errorf("select %s: %w", path, err)
	}
	if n == 0 {
		ms.Close()
		monitoring.Warnf("UVBin", "selection on %s matches no rows", path)
		return false, nil
	}
	b.inputs = append(b.inputs, visbuf.Input{MS: ms, Selection: compiled})
	monitoring.Logf("[UVBin] selected %d rows from %s", n, path)
	return true, nil
}

// Close releases the input tables.
func (b *Binner) Close() error {
	var errs []error
	for _, in := range b.inputs {
		if err := in.MS.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	b.inputs = nil
	return errors.Join(errs...)
}

// FillOutputMS grids every selected row into the output table. The cube is
// accumulated in memory, in as many channel passes as the memory budget
// requires, unless forceDisk is set or the cube exceeds the budget, in which
// case output rows are updated in place. W-projection always uses the
// in-memory path.
func (b *Binner) FillOutputMS(ctx context.Context, forceDisk bool) (err error) {
	b.state = StateUninitialized
	if len(b.inputs) == 0 {
		return ErrNoInput
	}
	if err := b.makeCoordsys(ctx); err != nil {
		return err
	}
	if err := b.createOutputMS(ctx); err != nil {
		return err
	}
	defer func() {
		if cerr := b.out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", b.outPath, cerr)
		}
		b.out = nil
	}()
	b.grid = newUVGrid(b.csys, b.spec.NX, b.spec.NY)
	b.rotations = make(map[coordsys.Direction]*coordsys.Rotation)
	if err := b.setTileCache(ctx); err != nil {
		return err
	}

	it, err := visbuf.NewIterator(ctx, b.inputs, b.spec.RowsPerBuffer)
	if err != nil {
		return err
	}
	b.state = StateGridding
	mode := b.gridMode(forceDisk)
	switch mode {
	case modeWProjection:
		err = b.fillConvOutputMS(ctx, it)
	case modeInPlace:
		err = b.fillBigOutputMS(ctx, it)
	default:
		err = b.fillSmallOutputMS(ctx, it)
	}
	if err != nil {
		return err
	}

	if err := b.weightSync(ctx, mode == modeWProjection); err != nil {
		return err
	}
	b.state = StateWeightSynced
	if !b.existOut {
		if err := b.storeGridInfo(ctx); err != nil {
			return err
		}
	}
	b.state = StateGridInfoStored

	if err := b.addHistory(ctx, it.TotalRows(), mode); err != nil {
		return err
	}
	return b.out.Flush(ctx)
}

// Gridding paths, as recorded in HISTORY.
const (
	modeInMemory    = "in-memory"
	modeInPlace     = "in-place"
	modeWProjection = "w-projection"
)

// gridMode picks the gridding path for this run.
func (b *Binner) gridMode(forceDisk bool) string {
	switch {
	case b.spec.WProjection:
		return modeWProjection
	case forceDisk || b.cubeExceedsMemory():
		return modeInPlace
	default:
		return modeInMemory
	}
}

func (b *Binner) addHistory(ctx context.Context, rows int64, mode string) error {
	paths := make([]string, len(b.inputs))
	for i, in := range b.inputs {
		paths[i] = in.MS.Path()
	}
	return b.out.AddHistory(ctx, &msdb.HistoryEntry{
		Time:        timeutil.MJDSeconds(b.clock.Now()),
		Application: "uvbin",
		Version:     version.String(),
		Origin:      "uvbin.FillOutputMS",
		Message: fmt.Sprintf("binned %d rows from %s onto %d×%d×%d×%d (%s)",
			rows, strings.Join(paths, ","), b.spec.NX, b.spec.NY, b.spec.NChan, b.spec.NPol, mode),
	})
}

// cubeExceedsMemory reports whether the DATA cube alone is larger than the
// memory budget.
func (b *Binner) cubeExceedsMemory() bool {
	cube := float64(b.spec.NX) * float64(b.spec.NY) * float64(b.spec.NPol) * float64(b.spec.NChan) * 8
	return cube > b.budget()
}

func (b *Binner) budget() float64 {
	return b.spec.MemFraction * float64(b.memFreeKiB()) * 1024
}

// usableNchan is the number of output channels one pass may hold when every
// cell costs bytesPerCell.
func (b *Binner) usableNchan(bytesPerCell int) int {
	perChan := float64(b.spec.NX*b.spec.NY*b.spec.NPol) * float64(bytesPerCell)
	n := int(b.budget() / perChan)
	return min(max(n, 1), b.spec.NChan)
}

// rotation returns the cached uvw rotation from dir to the grid phase centre.
func (b *Binner) rotation(dir coordsys.Direction) *coordsys.Rotation {
	r, ok := b.rotations[dir]
	if !ok {
		r = coordsys.NewRotation(dir, b.csys.Direction.Ref)
		b.rotations[dir] = r
	}
	return r
}

// sweep feeds every mappable buffer of it to fn, in iterator order.
func (b *Binner) sweep(ctx context.Context, it *visbuf.Iterator, meter *monitoring.ProgressMeter,
	fn func(vb *visbuf.Buffer, m ddMap) error) error {
	it.Reset()
	for {
		vb, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		meter.Add(int64(vb.NRows))
		m, ok := b.dataDescMap(vb)
		if !ok {
			continue
		}
		if err := fn(vb, m); err != nil {
			return err
		}
	}
}
