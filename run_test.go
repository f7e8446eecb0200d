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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func threeStepClock(t *testing.T) *Clock {
	t.Helper()
	c, err := NewClock(ClockConfig{Start: t0, Duration: 3 * time.Hour, Dt: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestDriverRun(t *testing.T) {
	var calls int
	var dts []float64
	countStep := func(b *Block, Δt float64) error {
		calls++
		dts = append(dts, Δt)
		return nil
	}
	d := &Driver{
		Clock:   threeStepClock(t),
		Blocks:  testBlockSet(),
		Reducer: SerialReducer{},
		StepFuncs: []DomainManipulator{
			StepBlocks(countStep),
			ShiftTimeLevels(),
		},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	if d.Steps() != 3 {
		t.Errorf("completed %d steps, want 3", d.Steps())
	}
	if calls != 3 {
		t.Errorf("physics ran %d times for 1 block over 3 steps, want 3", calls)
	}
	for i, dt := range dts {
		if dt != 3600 {
			t.Errorf("step %d: Δt = %g, want 3600", i, dt)
		}
	}
	if err := d.Cleanup(); err != nil {
		t.Fatal(err)
	}
	if err := d.Run(); err == nil {
		t.Error("Run succeeded after Cleanup")
	}
}

func TestDriverLocalErrorAborts(t *testing.T) {
	failing := func(b *Block, Δt float64) error {
		return fmt.Errorf("unstable column")
	}
	d := &Driver{
		Clock:     threeStepClock(t),
		Blocks:    testBlockSet(),
		Reducer:   SerialReducer{},
		StepFuncs: []DomainManipulator{StepBlocks(failing)},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	err := d.Run()
	abort, ok := err.(*GlobalAbort)
	if !ok {
		t.Fatalf("Run returned %v, want *GlobalAbort", err)
	}
	if abort.Phase != PhaseStep {
		t.Errorf("abort phase = %s, want %s", abort.Phase, PhaseStep)
	}
	if len(abort.Local) == 0 {
		t.Error("abort carries no local errors on the failing process")
	}
	// The failing step still ran to completion before the checkpoint
	// detected the error.
	if d.Steps() != 1 {
		t.Errorf("aborted after %d steps, want 1", d.Steps())
	}
}

// remoteErrorReducer simulates a run where a different process has
// recorded an error: the max reduction returns 1 regardless of the
// local flag.
type remoteErrorReducer struct{ SerialReducer }

func (remoteErrorReducer) MaxInt(int) (int, error) { return 1, nil }

func TestDriverRemoteErrorAborts(t *testing.T) {
	d := &Driver{
		Clock:   threeStepClock(t),
		Blocks:  testBlockSet(),
		Reducer: remoteErrorReducer{},
	}
	err := d.Run()
	abort, ok := err.(*GlobalAbort)
	if !ok {
		t.Fatalf("Run returned %v, want *GlobalAbort", err)
	}
	if abort.Phase != PhasePreStep {
		t.Errorf("abort phase = %s, want %s", abort.Phase, PhasePreStep)
	}
	if len(abort.Local) != 0 {
		t.Errorf("abort carries %d local errors; this process recorded none", len(abort.Local))
	}
	if d.Steps() != 0 {
		t.Errorf("%d steps ran despite a pre-step abort", d.Steps())
	}
}

func TestDriverInitAbort(t *testing.T) {
	d := &Driver{
		Clock:   threeStepClock(t),
		Blocks:  testBlockSet(),
		Reducer: SerialReducer{},
		InitFuncs: []DomainManipulator{
			func(d *Driver) error {
				d.Status.Record(PhaseInit, 0, fmt.Errorf("bad mesh"))
				return nil
			},
		},
	}
	err := d.Init()
	abort, ok := err.(*GlobalAbort)
	if !ok {
		t.Fatalf("Init returned %v, want *GlobalAbort", err)
	}
	if abort.Phase != PhaseInit {
		t.Errorf("abort phase = %s, want %s", abort.Phase, PhaseInit)
	}
}

func TestErrorStatus(t *testing.T) {
	var s ErrorStatus
	if s.Flag() != 0 {
		t.Error("fresh status flags an error")
	}
	s.Record(PhaseStep, 2, nil)
	if s.Flag() != 0 {
		t.Error("nil error was recorded")
	}
	s.Record(PhaseStep, 2, fmt.Errorf("boom"))
	if s.Flag() != 1 {
		t.Error("recorded error not flagged")
	}
	if n := len(s.Errors()); n != 1 {
		t.Errorf("got %d recorded errors, want 1", n)
	}
}

// TestDriverAlarmIO runs a complete simulation against on-disk streams:
// initial conditions are read from the input stream, output is written
// on its alarm cadence, and the restart record is persisted with its
// timestamp.
func TestDriverAlarmIO(t *testing.T) {
	dir, err := os.MkdirTemp("", "geosim")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	clock, err := NewClock(ClockConfig{Start: t0, Duration: 4 * time.Hour, Dt: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []*Alarm{
		{ID: "output", Stream: StreamOutput, Dir: Output, Interval: 2 * time.Hour},
		{ID: "restart", Stream: StreamRestart, Dir: Output, Interval: 4 * time.Hour},
	} {
		if err := clock.AddAlarm(a); err != nil {
			t.Fatal(err)
		}
	}
	gw := NewFileGateway(dir, clock)
	if err := gw.Write(StreamInput, testBlockSet(), true); err != nil {
		t.Fatal(err)
	}

	tsfile := filepath.Join(dir, "restart_timestamp")
	d := &Driver{
		Clock:   clock,
		Blocks:  &BlockSet{},
		Reducer: SerialReducer{},
		Gateway: gw,
		InitFuncs: []DomainManipulator{
			InitialConditions(false),
		},
		StepFuncs: []DomainManipulator{
			StepBlocks(HoldState()),
			ShiftTimeLevels(),
			WriteRestart(tsfile),
			WriteOutput(StreamOutput),
		},
	}
	if err := d.Init(); err != nil {
		t.Fatal(err)
	}
	if len(d.Blocks.Blocks) != 1 {
		t.Fatalf("initial conditions loaded %d blocks, want 1", len(d.Blocks.Blocks))
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}

	var out BlockSet
	if err := gw.Read(StreamOutput, &out); err != nil {
		t.Fatalf("no output stream was written: %v", err)
	}
	b := out.Blocks[0]
	if got := b.Cur.Temperature.Get(0, 0); got != 4 {
		t.Errorf("output temperature = %g, want 4", got)
	}

	var restart BlockSet
	if err := gw.Read(StreamRestart, &restart); err != nil {
		t.Fatalf("no restart stream was written: %v", err)
	}
	ts, err := ReadRestartTimestamp(tsfile)
	if err != nil {
		t.Fatal(err)
	}
	if want := t0.Add(4 * time.Hour); !ts.Equal(want) {
		t.Errorf("restart timestamp %v, want %v", ts, want)
	}
}

func TestRunWhenRinging(t *testing.T) {
	clock := threeStepClock(t)
	err := clock.AddAlarm(&Alarm{ID: "analysis", Stream: StreamOutput, Dir: Output, Interval: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	var runs int
	d := &Driver{
		Clock:   clock,
		Blocks:  testBlockSet(),
		Reducer: SerialReducer{},
		StepFuncs: []DomainManipulator{
			RunWhenRinging("analysis", func(d *Driver) error {
				runs++
				return nil
			}),
		},
	}
	if err := d.Run(); err != nil {
		t.Fatal(err)
	}
	// Over 3 hourly steps a 2 h alarm rings once.
	if runs != 1 {
		t.Errorf("scheduled function ran %d times, want 1", runs)
	}
	if clock.AlarmRinging("analysis") {
		t.Error("alarm left ringing after its function ran")
	}
}
