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

import "fmt"

// Phase identifies where in the run a local error was recorded or a
// global abort was detected.
type Phase int

const (
	// PhaseInit covers state loading and block initialization.
	PhaseInit Phase = iota
	// PhasePreStep covers the checkpoint between initialization and
	// the first step.
	PhasePreStep
	// PhaseStep covers the physics step and time-level shift.
	PhaseStep
	// PhaseIO covers forcing reads and output and restart writes.
	PhaseIO
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "initialization"
	case PhasePreStep:
		return "before time-stepping"
	case PhaseStep:
		return "time-stepping"
	case PhaseIO:
		return "stream input/output"
	default:
		return fmt.Sprintf("unknown phase %d", int(p))
	}
}

// A LocalError is a per-block failure recorded during a run. Local
// errors never interrupt control flow directly: every process must keep
// making the same collective calls in the same order, so failures are
// recorded here and only acted on at the global error checkpoints.
type LocalError struct {
	Phase Phase
	Block int
	Err   error
}

func (e *LocalError) Error() string {
	return fmt.Sprintf("geosim: block %d (%s): %v", e.Block, e.Phase, e.Err)
}

// ErrorStatus accumulates the local errors of one process. It is
// converted to a boolean "any error" flag only at the reduction
// boundary.
type ErrorStatus struct {
	errs []*LocalError
}

// Record adds a local error. A nil err is ignored.
func (s *ErrorStatus) Record(phase Phase, block int, err error) {
	if err == nil {
		return
	}
	s.errs = append(s.errs, &LocalError{Phase: phase, Block: block, Err: err})
}

// Flag returns 1 if any local error has been recorded and 0 otherwise.
// It is the value contributed to the global max reduction.
func (s *ErrorStatus) Flag() int {
	if len(s.errs) > 0 {
		return 1
	}
	return 0
}

// Errors returns the recorded local errors.
func (s *ErrorStatus) Errors() []*LocalError { return s.errs }

// A GlobalAbort is returned when the global max reduction of the
// per-process error flags is nonzero at a checkpoint. Local contains
// this process's own recorded errors, which may be empty: the failure
// may have occurred on another process.
type GlobalAbort struct {
	Phase Phase
	Local []*LocalError
}

func (e *GlobalAbort) Error() string {
	if len(e.Local) == 0 {
		return fmt.Sprintf("geosim: global abort in %s (error on another process)", e.Phase)
	}
	return fmt.Sprintf("geosim: global abort in %s: %v", e.Phase, e.Local[0])
}
