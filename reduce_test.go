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
	"sync"
	"testing"
)

func TestSerialReducer(t *testing.T) {
	r := SerialReducer{}
	if r.Rank() != 0 || r.Size() != 1 {
		t.Errorf("Rank, Size = %d, %d; want 0, 1", r.Rank(), r.Size())
	}
	if v, err := r.MaxInt(1); err != nil || v != 1 {
		t.Errorf("MaxInt(1) = %d, %v; want 1, nil", v, err)
	}
	local := []float64{1, 2, 3}
	sum, err := r.SumArray(local)
	if err != nil {
		t.Fatal(err)
	}
	sum[0] = 99
	if local[0] != 1 {
		t.Error("SumArray result aliases its operand")
	}
}

// startHub serves a reduce hub for size processes on an ephemeral port
// and returns its address.
func startHub(t *testing.T, size int) string {
	t.Helper()
	h := NewReduceHub(size)
	l, err := h.Listen("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func TestClusterReduce(t *testing.T) {
	const size = 3
	addr := startHub(t, size)

	type result struct {
		flag          int
		sum, min, max []float64
		err           error
	}
	results := make([]result, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			res := &results[rank]
			r, err := DialReducer(addr, rank, size, nil)
			if err != nil {
				res.err = err
				return
			}
			defer r.Close()

			// Only rank 1 reports a local error; the reduced flag must
			// still be 1 on every rank.
			flag := 0
			if rank == 1 {
				flag = 1
			}
			if res.flag, res.err = r.MaxInt(flag); res.err != nil {
				return
			}
			local := []float64{float64(rank), float64(-rank)}
			if res.sum, res.err = r.SumArray(local); res.err != nil {
				return
			}
			if res.min, res.err = r.MinArray(local); res.err != nil {
				return
			}
			res.max, res.err = r.MaxArray(local)
		}(rank)
	}
	wg.Wait()

	for rank, res := range results {
		if res.err != nil {
			t.Fatalf("rank %d: %v", rank, res.err)
		}
		if res.flag != 1 {
			t.Errorf("rank %d: reduced error flag = %d, want 1", rank, res.flag)
		}
		// Contributions were {0,0}, {1,-1}, {2,-2}.
		if res.sum[0] != 3 || res.sum[1] != -3 {
			t.Errorf("rank %d: sum = %v, want [3 -3]", rank, res.sum)
		}
		if res.min[0] != 0 || res.min[1] != -2 {
			t.Errorf("rank %d: min = %v, want [0 -2]", rank, res.min)
		}
		if res.max[0] != 2 || res.max[1] != 0 {
			t.Errorf("rank %d: max = %v, want [2 0]", rank, res.max)
		}
	}
}

func TestClusterReduceShapeMismatch(t *testing.T) {
	const size = 2
	addr := startHub(t, size)

	errs := make([]error, size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			r, err := DialReducer(addr, rank, size, nil)
			if err != nil {
				errs[rank] = err
				return
			}
			defer r.Close()
			// The two ranks contribute arrays of different lengths to
			// the same collective.
			_, errs[rank] = r.SumArray(make([]float64, 2+rank))
		}(rank)
	}
	wg.Wait()

	for rank, err := range errs {
		if err == nil {
			t.Errorf("rank %d: mismatched operand shapes went undetected", rank)
		}
	}
}
