/*
Copyright © 2018 the GeoSim authors.
This file is part of GeoSim.

GeoSim is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

GeoSim is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with GeoSim.  If not, see <http://www.gnu.org/licenses/>.
*/

package geosim

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// configuredBoundary marks a min/max override as set: any configured
// value above this threshold is used in place of the measured global
// extreme.
const configuredBoundary = -1.0e33

// boundaryEps is the relative widening applied to measured extremes so
// samples exactly equal to the global min or max are not dropped at the
// bin edges.
const boundaryEps = 1.0e-10

// BinnerConfig configures the spatial binning of an analysis member.
type BinnerConfig struct {
	// NBins is the number of equal-width bins, K >= 1.
	NBins int

	// MinBoundary and MaxBoundary override the measured extremes of
	// the binning variable when set (any value above -1e33). Leave at
	// the zero value of Unset() to measure them from the mesh.
	MinBoundary float64
	MaxBoundary float64

	// Spherical selects latitude as the binning variable; otherwise
	// the planar Y coordinate is used.
	Spherical bool
}

// UnsetBoundary returns the sentinel marking a boundary override as
// not configured.
func UnsetBoundary() float64 { return -1.0e34 }

// Binner assigns cells to spatial bins and carries out the
// local-accumulate / global-reduce / cumulative-integral pattern shared
// by the analysis members. Setup fixes the bin boundaries once;
// Compute-side helpers operate against them.
type Binner struct {
	nBins      int
	spherical  bool
	boundaries []float64 // len nBins+1, strictly increasing
	reducer    Reducer
}

// NewBinner creates a binner with K = cfg.NBins bins. The boundaries
// are not determined until Setup.
func NewBinner(cfg BinnerConfig, r Reducer) (*Binner, error) {
	if cfg.NBins < 1 {
		return nil, fmt.Errorf("geosim: bin count must be at least 1; got %d", cfg.NBins)
	}
	return &Binner{
		nBins:     cfg.NBins,
		spherical: cfg.Spherical,
		reducer:   r,
	}, nil
}

// Setup determines the bin boundaries: the extremes of the binning
// variable are measured per block, reduced to global extremes, replaced
// by configured overrides where present, widened by a relative epsilon
// otherwise, and divided into NBins equal-width bins. The same
// configuration and mesh always produce bit-identical boundaries.
func (z *Binner) Setup(bs *BlockSet, cfg BinnerConfig) error {
	localMin, localMax := math.Inf(1), math.Inf(-1)
	for _, b := range bs.Blocks {
		v := b.binCoord(z.spherical)
		if b.NCellsSolve == 0 {
			continue
		}
		localMin = math.Min(localMin, floats.Min(v[:b.NCellsSolve]))
		localMax = math.Max(localMax, floats.Max(v[:b.NCellsSolve]))
	}

	// The reduce primitives take array-shaped operands, so the scalar
	// extremes travel as length-1 arrays.
	gmin, err := z.reducer.MinArray([]float64{localMin})
	if err != nil {
		return fmt.Errorf("geosim: reducing bin variable minimum: %v", err)
	}
	gmax, err := z.reducer.MaxArray([]float64{localMax})
	if err != nil {
		return fmt.Errorf("geosim: reducing bin variable maximum: %v", err)
	}

	min, max := gmin[0], gmax[0]
	if cfg.MinBoundary > configuredBoundary {
		min = cfg.MinBoundary
	} else {
		min -= boundaryEps * math.Abs(min)
	}
	if cfg.MaxBoundary > configuredBoundary {
		max = cfg.MaxBoundary
	} else {
		max += boundaryEps * math.Abs(max)
	}
	if !(min < max) {
		return fmt.Errorf("geosim: degenerate bin range [%g, %g]: minimum must be less than maximum", min, max)
	}

	width := (max - min) / float64(z.nBins)
	z.boundaries = make([]float64, z.nBins+1)
	for i := 0; i <= z.nBins; i++ {
		z.boundaries[i] = min + float64(i)*width
	}
	z.boundaries[z.nBins] = max
	for i := 0; i < z.nBins; i++ {
		if z.boundaries[i] >= z.boundaries[i+1] {
			return fmt.Errorf("geosim: bin boundaries not strictly increasing at index %d", i)
		}
	}
	return nil
}

// NBins returns the configured bin count K.
func (z *Binner) NBins() int { return z.nBins }

// Boundaries returns a copy of the K+1 bin boundaries.
func (z *Binner) Boundaries() []float64 {
	return append([]float64(nil), z.boundaries...)
}

// bin returns the bin owning v: the first bin whose upper boundary
// exceeds v. Values below the first boundary return -1 and are skipped
// by the caller; that can only happen through floating-point edge
// effects, since the first boundary was set at or below the true global
// minimum. Values at or above the last boundary land in the last bin,
// which the boundary widening makes correct for boundary-equal samples.
func (z *Binner) bin(v float64) int {
	if v < z.boundaries[0] {
		return -1
	}
	for i := 0; i < z.nBins-1; i++ {
		if v < z.boundaries[i+1] {
			return i
		}
	}
	return z.nBins - 1
}

// Reduce sums the local accumulation array elementwise across all
// processes in a single collective over the full flattened array. One
// large reduction amortizes better than one per bin.
func (z *Binner) Reduce(local *sparse.DenseArray) (*sparse.DenseArray, error) {
	g, err := z.reducer.SumArray(local.Elements)
	if err != nil {
		return nil, fmt.Errorf("geosim: reducing accumulated field: %v", err)
	}
	out := sparse.ZerosDense(local.Shape...)
	copy(out.Elements, g)
	return out, nil
}

// PrefixIntegral computes the left-inclusive running integral over
// bins for each level of variable v in scaled (shape
// [variables, levels, bins]): out[level][0] = 0 and out[level][i] =
// out[level][i-1] + scaled[v, level, i-1], giving K+1 boundary-indexed
// values per level.
func (z *Binner) PrefixIntegral(scaled *sparse.DenseArray, v int) [][]float64 {
	nLevels := scaled.Shape[1]
	out := make([][]float64, nLevels)
	for k := 0; k < nLevels; k++ {
		row := make([]float64, z.nBins+1)
		for i := 1; i <= z.nBins; i++ {
			row[i] = row[i-1] + scaled.Get(v, k, i-1)
		}
		out[k] = row
	}
	return out
}

// CollapseLevels sums the per-level boundary profiles into a single
// profile.
func (z *Binner) CollapseLevels(profiles [][]float64) []float64 {
	total := make([]float64, z.nBins+1)
	for _, row := range profiles {
		floats.Add(total, row)
	}
	return total
}

// Seawater constants for the heat transport analysis member.
const (
	seawaterDensity      = 1026.0 // kg/m³
	seawaterSpecificHeat = 3996.0 // J/(kg·K)
	wattsPerPetawatt     = 1.0e15
)

// HeatTransport is an analysis member that reduces the temperature
// transport of the decomposed state to a cumulative meridional profile:
// per-cell flux divergences are accumulated into latitude bins and
// vertical levels, summed globally, integrated over bins, and collapsed
// over levels to one petawatt value per bin boundary.
type HeatTransport struct {
	binner  *Binner
	cfg     BinnerConfig
	nLevels int
}

// NewHeatTransport creates the analysis member. Init must be called
// before Compute.
func NewHeatTransport(cfg BinnerConfig, r Reducer) (*HeatTransport, error) {
	z, err := NewBinner(cfg, r)
	if err != nil {
		return nil, err
	}
	return &HeatTransport{binner: z, cfg: cfg}, nil
}

// Binner exposes the member's binner for inspection.
func (h *HeatTransport) Binner() *Binner { return h.binner }

// Init determines the bin boundaries from the decomposed mesh. It must
// be called collectively: every process participates in the extreme
// reductions.
func (h *HeatTransport) Init(bs *BlockSet) error {
	h.nLevels = bs.NLevels()
	return h.binner.Setup(bs, h.cfg)
}

// nTransportVars is the leading dimension of the accumulation array.
// Only temperature transport is computed currently; the dimension is
// kept so further tracers extend the same reduction.
const nTransportVars = 1

// Accumulate computes the local per-bin, per-level partial sums for
// this process's blocks. The returned array is transient: it is
// allocated here and discarded after the global reduction.
func (h *HeatTransport) Accumulate(bs *BlockSet) *sparse.DenseArray {
	acc := sparse.ZerosDense(nTransportVars, h.nLevels, h.binner.NBins())
	for _, b := range bs.Blocks {
		coord := b.binCoord(h.cfg.Spherical)
		u := b.Cur.NormalVelocity
		thick := b.Cur.LayerThickness
		temp := b.Cur.Temperature
		for c := 0; c < b.NCellsSolve; c++ {
			j := h.binner.bin(coord[c])
			if j < 0 {
				continue
			}
			for k := 0; k < b.MaxLevelCell[c]; k++ {
				var div float64
				for ei, e := range b.EdgesOnCell[c] {
					c1, c2 := b.CellsOnEdge[e][0], b.CellsOnEdge[e][1]
					hEdge := 0.5 * (thick.Get(k, c1) + thick.Get(k, c2))
					tEdge := 0.5 * (temp.Get(k, c1) + temp.Get(k, c2))
					div += b.EdgeSignOnCell[c][ei] * u.Get(k, e) * b.EdgeLength[e] * hEdge * tEdge
				}
				acc.AddVal(div, 0, k, j)
			}
		}
	}
	return acc
}

// Compute runs one analysis pass: local accumulation, one global sum
// over the flattened array, unit conversion to petawatts, prefix
// integral over bins, vertical collapse, and broadcast of the resulting
// profile into every block's diagnostic storage.
func (h *HeatTransport) Compute(bs *BlockSet) error {
	local := h.Accumulate(bs)
	global, err := h.binner.Reduce(local)
	if err != nil {
		return err
	}
	global.Scale(seawaterDensity * seawaterSpecificHeat / wattsPerPetawatt)
	profiles := h.binner.PrefixIntegral(global, 0)
	total := h.binner.CollapseLevels(profiles)

	// The profile is independent of the block decomposition, but
	// output writing reads per-block storage uniformly, so each block
	// gets its own copy.
	for _, b := range bs.Blocks {
		b.Diag.TransportProfile = append([]float64(nil), total...)
	}
	return nil
}

// ComputeMember returns a DomainManipulator that runs the analysis so
// it can be scheduled with RunWhenRinging.
func (h *HeatTransport) ComputeMember() DomainManipulator {
	return func(d *Driver) error {
		if err := h.Compute(d.Blocks); err != nil {
			d.Status.Record(PhaseStep, -1, err)
		}
		return nil
	}
}

// InitMember returns a DomainManipulator that determines the bin
// boundaries during driver initialization, after the initial state has
// been loaded.
func (h *HeatTransport) InitMember() DomainManipulator {
	return func(d *Driver) error {
		if err := h.Init(d.Blocks); err != nil {
			d.Status.Record(PhaseInit, -1, err)
			return nil
		}
		// Loaded fields may come from a differently configured run, so
		// the initial diagnostics are recomputed at the same
		// consistency a step would produce.
		if err := h.Compute(d.Blocks); err != nil {
			d.Status.Record(PhaseInit, -1, err)
		}
		return nil
	}
}
