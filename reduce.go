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
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// A Reducer performs synchronous collective reductions across all
// processes of a run. Every process must make the same calls in the
// same order with arrays of identical length; these calls are the only
// points where inter-process synchronization occurs, and a divergent
// call sequence deadlocks the run.
type Reducer interface {
	// MaxInt returns the maximum of the local values on all processes.
	// It is used to aggregate error flags.
	MaxInt(local int) (int, error)

	// SumArray returns the elementwise sum of the local arrays on all
	// processes.
	SumArray(local []float64) ([]float64, error)

	// MinArray and MaxArray return the elementwise extremes of the
	// local arrays on all processes.
	MinArray(local []float64) ([]float64, error)
	MaxArray(local []float64) ([]float64, error)

	// Rank is this process's index, 0 <= Rank < Size.
	Rank() int
	// Size is the number of processes in the run.
	Size() int
}

// SerialReducer is the Reducer for single-process runs: every
// reduction returns a copy of its local operand.
type SerialReducer struct{}

// MaxInt returns local.
func (SerialReducer) MaxInt(local int) (int, error) { return local, nil }

// SumArray returns a copy of local.
func (SerialReducer) SumArray(local []float64) ([]float64, error) {
	return append([]float64(nil), local...), nil
}

// MinArray returns a copy of local.
func (SerialReducer) MinArray(local []float64) ([]float64, error) {
	return append([]float64(nil), local...), nil
}

// MaxArray returns a copy of local.
func (SerialReducer) MaxArray(local []float64) ([]float64, error) {
	return append([]float64(nil), local...), nil
}

// Rank returns 0.
func (SerialReducer) Rank() int { return 0 }

// Size returns 1.
func (SerialReducer) Size() int { return 1 }

// Reduction operations understood by the hub.
const (
	opSum    = "sum"
	opMin    = "min"
	opMax    = "max"
	opMaxInt = "maxint"
)

// ReduceRequest is one process's contribution to a collective. It is
// exported to meet RPC requirements and should not be used directly.
type ReduceRequest struct {
	Rank int
	Seq  int // collective sequence number; detects divergent call order
	Op   string
	Data []float64
	Int  int
}

// ReduceReply is the combined result of a collective, identical for
// every participant. It is exported to meet RPC requirements.
type ReduceReply struct {
	Data []float64
	Int  int
}

// collective accumulates the contributions to one reduction.
type collective struct {
	op    string
	data  []float64
	intv  int
	count int
	reads int
	ready bool
	err   error
}

// ReduceHub combines the contributions of all processes. It runs on
// rank 0 and is exported to meet RPC requirements; use ClusterReducer
// rather than interacting with it directly.
type ReduceHub struct {
	size    int
	mu      sync.Mutex
	cond    *sync.Cond
	pending map[int]*collective
}

// NewReduceHub creates a hub expecting contributions from size
// processes per collective.
func NewReduceHub(size int) *ReduceHub {
	h := &ReduceHub{
		size:    size,
		pending: make(map[int]*collective),
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Listen starts serving reductions on addr and returns the listener so
// the caller can learn the bound address and shut the hub down.
func (h *ReduceHub) Listen(addr string) (net.Listener, error) {
	srv := rpc.NewServer()
	if err := srv.Register(h); err != nil {
		return nil, fmt.Errorf("geosim: registering reduce hub: %v", err)
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("geosim: reduce hub listen: %v", err)
	}
	go srv.Accept(l)
	return l, nil
}

// Reduce accepts one contribution and blocks until all processes have
// contributed to the same collective, then returns the combined result.
// It meets the requirements for use with rpc.Call.
func (h *ReduceHub) Reduce(req *ReduceRequest, rep *ReduceReply) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.pending[req.Seq]
	if !ok {
		c = &collective{
			op:   req.Op,
			data: append([]float64(nil), req.Data...),
			intv: req.Int,
		}
		h.pending[req.Seq] = c
	} else if err := c.combine(req); err != nil && c.err == nil {
		c.err = err
	}
	c.count++
	if c.count == h.size {
		c.ready = true
		h.cond.Broadcast()
	}
	for !c.ready {
		h.cond.Wait()
	}

	rep.Data = append([]float64(nil), c.data...)
	rep.Int = c.intv
	c.reads++
	if c.reads == h.size {
		delete(h.pending, req.Seq)
	}
	return c.err
}

func (c *collective) combine(req *ReduceRequest) error {
	if req.Op != c.op {
		return fmt.Errorf("geosim: rank %d called collective %d with op %q; first caller used %q",
			req.Rank, req.Seq, req.Op, c.op)
	}
	if len(req.Data) != len(c.data) {
		return fmt.Errorf("geosim: rank %d called collective %d with %d elements; first caller used %d",
			req.Rank, req.Seq, len(req.Data), len(c.data))
	}
	switch req.Op {
	case opSum:
		floats.Add(c.data, req.Data)
	case opMin:
		for i, v := range req.Data {
			c.data[i] = math.Min(c.data[i], v)
		}
	case opMax:
		for i, v := range req.Data {
			c.data[i] = math.Max(c.data[i], v)
		}
	case opMaxInt:
		if req.Int > c.intv {
			c.intv = req.Int
		}
	default:
		return fmt.Errorf("geosim: unknown reduction op %q", req.Op)
	}
	return nil
}

// ClusterReducer is a Reducer for multi-process runs. All processes,
// including the one hosting the hub, dial the hub over TCP; each
// collective blocks until every process has contributed, giving the
// barrier-like semantics the run loop relies on.
type ClusterReducer struct {
	rank, size int
	client     *rpc.Client
	seq        int
}

// DialReducer connects to the hub at addr, retrying with exponential
// backoff while the hub starts up.
func DialReducer(addr string, rank, size int, log *logrus.Logger) (*ClusterReducer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	var client *rpc.Client
	err := backoff.RetryNotify(
		func() error {
			var err error
			client, err = rpc.Dial("tcp", addr)
			return err
		},
		backoff.NewExponentialBackOff(),
		func(err error, d time.Duration) {
			log.WithField("address", addr).Warnf("geosim: dialing reduce hub failed (%v); retrying in %s", err, d)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("geosim: dialing reduce hub %s: %v", addr, err)
	}
	return &ClusterReducer{rank: rank, size: size, client: client}, nil
}

// Close releases the connection to the hub.
func (r *ClusterReducer) Close() error { return r.client.Close() }

func (r *ClusterReducer) call(op string, data []float64, intv int) (*ReduceReply, error) {
	req := &ReduceRequest{Rank: r.rank, Seq: r.seq, Op: op, Data: data, Int: intv}
	r.seq++
	rep := new(ReduceReply)
	if err := r.client.Call("ReduceHub.Reduce", req, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// MaxInt implements Reducer.
func (r *ClusterReducer) MaxInt(local int) (int, error) {
	rep, err := r.call(opMaxInt, nil, local)
	if err != nil {
		return 0, err
	}
	return rep.Int, nil
}

// SumArray implements Reducer.
func (r *ClusterReducer) SumArray(local []float64) ([]float64, error) {
	rep, err := r.call(opSum, local, 0)
	if err != nil {
		return nil, err
	}
	return rep.Data, nil
}

// MinArray implements Reducer.
func (r *ClusterReducer) MinArray(local []float64) ([]float64, error) {
	rep, err := r.call(opMin, local, 0)
	if err != nil {
		return nil, err
	}
	return rep.Data, nil
}

// MaxArray implements Reducer.
func (r *ClusterReducer) MaxArray(local []float64) ([]float64, error) {
	rep, err := r.call(opMax, local, 0)
	if err != nil {
		return nil, err
	}
	return rep.Data, nil
}

// Rank implements Reducer.
func (r *ClusterReducer) Rank() int { return r.rank }

// Size implements Reducer.
func (r *ClusterReducer) Size() int { return r.size }
