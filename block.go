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

	"github.com/ctessum/sparse"
)

// BlockState holds one time level of the prognostic fields of a block.
// Two states are kept per block so that "start of step" values are not
// overwritten while "end of step" values are being computed.
type BlockState struct {
	LayerThickness *sparse.DenseArray // [level, cell] meters
	NormalVelocity *sparse.DenseArray // [level, edge] m/s
	Temperature    *sparse.DenseArray // [level, cell] °C
}

// NewBlockState allocates a zeroed state for the given dimensions.
func NewBlockState(nLevels, nCells, nEdges int) *BlockState {
	return &BlockState{
		LayerThickness: sparse.ZerosDense(nLevels, nCells),
		NormalVelocity: sparse.ZerosDense(nLevels, nEdges),
		Temperature:    sparse.ZerosDense(nLevels, nCells),
	}
}

// fix restores the unexported bookkeeping of the field arrays after gob
// or RPC transmission.
func (s *BlockState) fix() {
	if s == nil {
		return
	}
	for _, a := range []*sparse.DenseArray{s.LayerThickness, s.NormalVelocity, s.Temperature} {
		if a != nil {
			a.Fix()
		}
	}
}

// BlockDiag is per-block storage for analysis member results. Analysis
// results are identical across the blocks of a process, but they are
// broadcast into every block because output writing reads per-block
// storage uniformly.
type BlockDiag struct {
	// TransportProfile holds one cumulative transport value per bin
	// boundary [PW].
	TransportProfile []float64
}

// A Block is one spatial partition of the simulated domain, owned by
// exactly one process. It holds a contiguous set of local cells and
// edges, the adjacency between them, and two time levels of the field
// arrays the physics step operates on. Cells and edges beyond the
// solve counts are halo copies owned by neighboring partitions.
type Block struct {
	ID int

	NCellsSolve int // cells solved by this block
	NCells      int // solved plus halo
	NEdgesSolve int
	NEdges      int
	NLevels     int

	EdgesOnCell    [][]int     // edges surrounding each cell
	CellsOnEdge    [][2]int    // the two cells adjoining each edge
	EdgeSignOnCell [][]float64 // outward-normal sign of each cell edge

	// MaxLevelCell is the number of active vertical levels in each
	// cell's column.
	MaxLevelCell []int

	AreaCell   []float64 // m²
	EdgeLength []float64 // m
	LatCell    []float64 // radians, spherical meshes
	LonCell    []float64 // radians, spherical meshes
	XCell      []float64 // m, planar meshes
	YCell      []float64 // m, planar meshes

	Cur  *BlockState // state at the start of the current step
	Next *BlockState // state being computed by the current step

	Diag BlockDiag
}

// ShiftTimeLevels makes the state computed by the completed step the
// current state. It is a pointer swap, not a copy.
func (b *Block) ShiftTimeLevels() {
	b.Cur, b.Next = b.Next, b.Cur
}

// check validates the block's adjacency tables against its dimensions.
// A malformed block is reported as a local error and aggregated at the
// next global checkpoint rather than aborting immediately.
func (b *Block) check() error {
	if b.NCellsSolve > b.NCells {
		return fmt.Errorf("solve cell count %d exceeds total %d", b.NCellsSolve, b.NCells)
	}
	if len(b.EdgesOnCell) < b.NCellsSolve || len(b.EdgeSignOnCell) < b.NCellsSolve {
		return fmt.Errorf("adjacency tables cover %d cells, need %d", len(b.EdgesOnCell), b.NCellsSolve)
	}
	if len(b.MaxLevelCell) < b.NCellsSolve {
		return fmt.Errorf("active depth table covers %d cells, need %d", len(b.MaxLevelCell), b.NCellsSolve)
	}
	for c := 0; c < b.NCellsSolve; c++ {
		if len(b.EdgesOnCell[c]) != len(b.EdgeSignOnCell[c]) {
			return fmt.Errorf("cell %d: %d edges but %d edge signs", c, len(b.EdgesOnCell[c]), len(b.EdgeSignOnCell[c]))
		}
		for _, e := range b.EdgesOnCell[c] {
			if e < 0 || e >= b.NEdges {
				return fmt.Errorf("cell %d: edge index %d out of range [0,%d)", c, e, b.NEdges)
			}
			for _, cc := range b.CellsOnEdge[e] {
				if cc < 0 || cc >= b.NCells {
					return fmt.Errorf("edge %d: cell index %d out of range [0,%d)", e, cc, b.NCells)
				}
			}
		}
		if b.MaxLevelCell[c] < 0 || b.MaxLevelCell[c] > b.NLevels {
			return fmt.Errorf("cell %d: active depth %d out of range [0,%d]", c, b.MaxLevelCell[c], b.NLevels)
		}
	}
	if b.Cur == nil || b.Next == nil {
		return fmt.Errorf("missing time level state")
	}
	return nil
}

// binCoord returns the binning coordinate field: latitude on spherical
// meshes, the planar Y coordinate otherwise.
func (b *Block) binCoord(spherical bool) []float64 {
	if spherical {
		return b.LatCell
	}
	return b.YCell
}

// A BlockSet is the ordered list of blocks owned by one process.
// Traversal order is stable across the run, and the set has identical
// structure (the same fields with the same shapes) on every process
// even though the cell counts differ.
type BlockSet struct {
	Blocks []*Block
}

// Check validates every block and the cross-block structural
// invariants.
func (bs *BlockSet) Check() error {
	if len(bs.Blocks) == 0 {
		return fmt.Errorf("geosim: empty block set")
	}
	nLevels := bs.Blocks[0].NLevels
	for _, b := range bs.Blocks {
		if b.NLevels != nLevels {
			return fmt.Errorf("geosim: block %d has %d levels; block %d has %d",
				b.ID, b.NLevels, bs.Blocks[0].ID, nLevels)
		}
		if err := b.check(); err != nil {
			return fmt.Errorf("geosim: block %d: %v", b.ID, err)
		}
	}
	return nil
}

// NLevels returns the vertical level count shared by all blocks.
func (bs *BlockSet) NLevels() int {
	if len(bs.Blocks) == 0 {
		return 0
	}
	return bs.Blocks[0].NLevels
}

// fix restores unexported field-array bookkeeping after decoding.
func (bs *BlockSet) fix() {
	for _, b := range bs.Blocks {
		b.Cur.fix()
		b.Next.fix()
	}
}
