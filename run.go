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
	"io"
	"time"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/sirupsen/logrus"
)

// A DomainManipulator performs one operation on the whole simulation
// state.
type DomainManipulator func(d *Driver) error

// A BlockManipulator advances one block by Δt seconds. The physics
// inside is opaque to the orchestrator; it is invoked exactly once per
// block per step, in list order, and must not depend on that order for
// correctness since blocks are data-disjoint. Returned errors are
// recorded as local errors, not acted on immediately.
type BlockManipulator func(b *Block, Δt float64) error

// Driver is the clock-driven run loop: it advances the simulation
// clock, applies the step functions over the block set, and aggregates
// per-process error status into a go/no-go decision at every step
// boundary. The functions to run are supplied as composable
// manipulators, in the order they should be executed.
type Driver struct {
	Clock   *Clock
	Blocks  *BlockSet
	Reducer Reducer
	Gateway StreamGateway
	Log     *logrus.Logger

	InitFuncs    []DomainManipulator
	StepFuncs    []DomainManipulator
	CleanupFuncs []DomainManipulator

	// Status accumulates this process's local errors between global
	// checkpoints.
	Status ErrorStatus

	// Dt is the elapsed seconds of the step currently executing,
	// anchored at the pre-advance clock time.
	Dt float64

	nSteps    int
	finalized bool
}

func (d *Driver) log() *logrus.Logger {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	return d.Log
}

// Init loads the initial state and runs the initialization functions,
// ending with a collective error checkpoint: if any process failed to
// initialize, every process learns it here and aborts together.
func (d *Driver) Init() error {
	for _, f := range d.InitFuncs {
		if err := f(d); err != nil {
			return err
		}
	}
	return d.checkpoint(PhaseInit)
}

// Run executes the step loop until the clock reaches its stop time or
// a global abort occurs. Every process in the run must execute the same
// loop with the same control flow; only the data differs.
func (d *Driver) Run() error {
	if d.finalized {
		return fmt.Errorf("geosim: driver already finalized")
	}
	if err := d.checkpoint(PhasePreStep); err != nil {
		return err
	}
	for !d.Clock.IsStopTime() {
		// The elapsed duration is anchored at the pre-advance time so
		// calendar effects belong to the step that spans them.
		d.Dt = d.Clock.StepSeconds()
		d.Clock.Advance()
		for _, f := range d.StepFuncs {
			if err := f(d); err != nil {
				return err
			}
		}
		d.nSteps++
		if err := d.checkpoint(PhaseStep); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup releases per-run resources. No further Advance calls are
// permitted afterwards.
func (d *Driver) Cleanup() error {
	for _, f := range d.CleanupFuncs {
		if err := f(d); err != nil {
			return err
		}
	}
	d.finalized = true
	d.Clock = nil
	return nil
}

// Steps returns the number of completed steps.
func (d *Driver) Steps() int { return d.nSteps }

// checkpoint reduces the per-process error flags with a global max.
// A nonzero result on any process is a nonzero result on every process,
// so all of them abort together instead of desynchronizing the
// collective call sequence.
func (d *Driver) checkpoint(p Phase) error {
	flag, err := d.Reducer.MaxInt(d.Status.Flag())
	if err != nil {
		return fmt.Errorf("geosim: error status reduction in %s: %v", p, err)
	}
	if flag != 0 {
		abort := &GlobalAbort{Phase: p, Local: d.Status.Errors()}
		d.log().WithField("phase", p.String()).Error(abort.Error())
		return abort
	}
	return nil
}

// InitialConditions returns a function that loads the initial state
// from the cold start stream, or from the restart stream if fromRestart
// is true, then clears any stale alarm state carried in the loaded
// stream and validates the decomposition. Load and validation failures
// are recorded as local errors so every process reaches the
// initialization checkpoint.
func InitialConditions(fromRestart bool) DomainManipulator {
	return func(d *Driver) error {
		stream := StreamInput
		if fromRestart {
			stream = StreamRestart
		}
		if err := d.Gateway.Read(stream, d.Blocks); err != nil {
			d.Status.Record(PhaseInit, -1, err)
			return nil
		}
		d.Clock.ResetAll()
		for _, b := range d.Blocks.Blocks {
			if err := b.check(); err != nil {
				d.Status.Record(PhaseInit, b.ID, err)
			}
		}
		return nil
	}
}

// StepBlocks returns a function that applies the physics manipulators
// to every block, in list order, passing the current step's elapsed
// seconds. Failures are recorded per block and surfaced at the step's
// checkpoint.
func StepBlocks(physics ...BlockManipulator) DomainManipulator {
	return func(d *Driver) error {
		for _, b := range d.Blocks.Blocks {
			for _, f := range physics {
				if err := f(b, d.Dt); err != nil {
					d.Status.Record(PhaseStep, b.ID, err)
				}
			}
		}
		return nil
	}
}

// HoldState returns a block manipulator that carries the current state
// forward unchanged. It stands in for the externally supplied physical
// parameterizations when none are configured, so the orchestration
// machinery (alarms, streams, analysis, error aggregation) can run
// without them.
func HoldState() BlockManipulator {
	return func(b *Block, Δt float64) error {
		copy(b.Next.LayerThickness.Elements, b.Cur.LayerThickness.Elements)
		copy(b.Next.NormalVelocity.Elements, b.Cur.NormalVelocity.Elements)
		copy(b.Next.Temperature.Elements, b.Cur.Temperature.Elements)
		return nil
	}
}

// ShiftTimeLevels returns a function that makes each block's computed
// state current.
func ShiftTimeLevels() DomainManipulator {
	return func(d *Driver) error {
		for _, b := range d.Blocks.Blocks {
			b.ShiftTimeLevels()
		}
		return nil
	}
}

// ReadForcing returns a function that reads each named forcing stream
// whose input alarm is ringing, then resets those alarms. The gateway
// selects the most recent previously-available sample.
func ReadForcing(streams ...string) DomainManipulator {
	return func(d *Driver) error {
		for _, stream := range streams {
			if len(d.Gateway.RingingAlarms(stream, Input)) == 0 {
				continue
			}
			if err := d.Gateway.Read(stream, d.Blocks); err != nil {
				d.Status.Record(PhaseIO, -1, err)
			}
			d.Gateway.ResetAlarms(stream, Input)
		}
		return nil
	}
}

// WriteRestart returns a function that, when the restart output alarm
// is ringing, persists the restart timestamp record and then the
// restart stream, in that order, so a failed data write never leaves a
// timestamp pointing at stale data the other way around.
func WriteRestart(timestampPath string) DomainManipulator {
	return func(d *Driver) error {
		if len(d.Gateway.RingingAlarms(StreamRestart, Output)) == 0 {
			return nil
		}
		if err := WriteRestartTimestamp(timestampPath, d.Clock.Now()); err != nil {
			d.Status.Record(PhaseIO, -1, err)
			return nil
		}
		if err := d.Gateway.Write(StreamRestart, d.Blocks, true); err != nil {
			d.Status.Record(PhaseIO, -1, err)
		}
		d.Gateway.ResetAlarms(StreamRestart, Output)
		return nil
	}
}

// WriteOutput returns a function that writes each named stream whose
// output alarm is ringing, then resets those alarms.
func WriteOutput(streams ...string) DomainManipulator {
	return func(d *Driver) error {
		for _, stream := range streams {
			if len(d.Gateway.RingingAlarms(stream, Output)) == 0 {
				continue
			}
			if err := d.Gateway.Write(stream, d.Blocks, false); err != nil {
				d.Status.Record(PhaseIO, -1, err)
			}
			d.Gateway.ResetAlarms(stream, Output)
		}
		return nil
	}
}

// ForceOutput returns a function that writes the named stream
// immediately, regardless of alarm state. It is used at initialization
// to record the starting state.
func ForceOutput(stream string) DomainManipulator {
	return func(d *Driver) error {
		if err := d.Gateway.Write(stream, d.Blocks, true); err != nil {
			d.Status.Record(PhaseIO, -1, err)
		}
		return nil
	}
}

// RunWhenRinging returns a function that runs f whenever the named
// alarm is ringing, then resets it. It schedules analysis members on
// their own cadence within the step loop.
func RunWhenRinging(alarmID string, f DomainManipulator) DomainManipulator {
	return func(d *Driver) error {
		if !d.Clock.AlarmRinging(alarmID) {
			return nil
		}
		if err := f(d); err != nil {
			return err
		}
		d.Clock.ResetAlarm(alarmID)
		return nil
	}
}

// Log returns a function that writes step status messages to w, and a
// companion cleanup function that reports wall-time statistics over the
// whole run.
func Log(w io.Writer) (step, summary DomainManipulator) {
	startTime := time.Now()
	stepTime := time.Now()
	var st stats.Stats

	step = func(d *Driver) error {
		Δwall := time.Since(stepTime).Seconds()
		st.Update(Δwall)
		fmt.Fprintf(w, "Step %-5d  t=%s  walltime=%6.3gh  Δwalltime=%4.2gs  Δt=%2.0fs\n",
			d.Steps()+1, d.Clock.Now().Format(time.RFC3339),
			time.Since(startTime).Hours(), Δwall, d.Dt)
		stepTime = time.Now()
		return nil
	}
	summary = func(d *Driver) error {
		if st.Count() == 0 {
			return nil
		}
		fmt.Fprintf(w, "Completed %d steps: Δwalltime mean=%4.2gs stddev=%4.2gs max=%4.2gs\n",
			st.Count(), st.Mean(), st.SampleStandardDeviation(), st.Max())
		return nil
	}
	return step, summary
}
