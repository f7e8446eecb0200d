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
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func TestClockConfig(t *testing.T) {
	_, err := NewClock(ClockConfig{Start: t0, Dt: time.Hour}, nil)
	if _, ok := err.(*ClockConfigError); !ok {
		t.Errorf("missing time bounds: want ClockConfigError, got %v", err)
	}

	_, err = NewClock(ClockConfig{Start: t0, Duration: 3 * time.Hour}, nil)
	if _, ok := err.(*ClockConfigError); !ok {
		t.Errorf("missing step interval: want ClockConfigError, got %v", err)
	}

	_, err = NewClock(ClockConfig{Start: t0, Stop: t0.Add(-time.Hour), Dt: time.Hour}, nil)
	if _, ok := err.(*ClockConfigError); !ok {
		t.Errorf("stop before start: want ClockConfigError, got %v", err)
	}

	// Both duration and stop time configured but inconsistent: the
	// declared stop time wins.
	c, err := NewClock(ClockConfig{
		Start:    t0,
		Stop:     t0.Add(2 * time.Hour),
		Duration: 3 * time.Hour,
		Dt:       time.Hour,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Advance()
	c.Advance()
	if !c.IsStopTime() {
		t.Error("declared stop time should win over computed stop time")
	}
}

func TestClockMonotonic(t *testing.T) {
	c, err := NewClock(ClockConfig{Start: t0, Duration: 3 * time.Hour, Dt: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	prev := c.Now()
	steps := 0
	for !c.IsStopTime() {
		if sec := c.StepSeconds(); sec != 3600 {
			t.Errorf("step %d: StepSeconds = %g, want 3600", steps, sec)
		}
		c.Advance()
		if !c.Now().After(prev) {
			t.Errorf("time did not increase: %v -> %v", prev, c.Now())
		}
		prev = c.Now()
		steps++
	}
	if steps != 3 {
		t.Errorf("loop body executed %d times, want 3", steps)
	}
	if !c.Now().Equal(t0.Add(3 * time.Hour)) {
		t.Errorf("final time %v, want %v", c.Now(), t0.Add(3*time.Hour))
	}
}

func TestAlarmResetLaw(t *testing.T) {
	c, err := NewClock(ClockConfig{Start: t0, Duration: 10 * time.Hour, Dt: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = c.AddAlarm(&Alarm{ID: "out", Stream: StreamOutput, Dir: Output, Interval: 2 * time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	c.Advance() // t = 1h
	if c.AlarmRinging("out") {
		t.Error("alarm ringing before first boundary")
	}
	c.Advance() // t = 2h: crossed the boundary
	if !c.AlarmRinging("out") {
		t.Error("alarm not ringing at first boundary")
	}
	ids := c.RingingAlarms(StreamOutput, Output)
	if len(ids) != 1 || ids[0] != "out" {
		t.Errorf("RingingAlarms = %v, want [out]", ids)
	}

	c.ResetAlarm("out")
	if c.AlarmRinging("out") {
		t.Error("alarm still ringing immediately after reset")
	}
	c.Advance() // t = 3h: no boundary
	if c.AlarmRinging("out") {
		t.Error("alarm rang before the next configured boundary")
	}
	c.Advance() // t = 4h: next boundary
	if !c.AlarmRinging("out") {
		t.Error("alarm did not recur at the next boundary")
	}
}

func TestAlarmSingleFire(t *testing.T) {
	c, err := NewClock(ClockConfig{Start: t0, Duration: 5 * time.Hour, Dt: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = c.AddAlarm(&Alarm{ID: "once", Stream: StreamInput, Dir: Input, Ref: t0.Add(2 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	c.Advance()
	if c.AlarmRinging("once") {
		t.Error("one-shot alarm rang early")
	}
	c.Advance()
	if !c.AlarmRinging("once") {
		t.Error("one-shot alarm did not ring at its fire time")
	}
	c.ResetAlarm("once")
	c.Advance()
	c.Advance()
	if c.AlarmRinging("once") {
		t.Error("one-shot alarm rang again after being reset")
	}
}

func TestClockRestartContinuity(t *testing.T) {
	dir, err := os.MkdirTemp("", "geosim")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "restart_timestamp")

	resume := t0.Add(48 * time.Hour)
	if err := WriteRestartTimestamp(path, resume); err != nil {
		t.Fatal(err)
	}

	c, err := NewClock(ClockConfig{
		Start:                t0, // ignored when starting from restart
		Duration:             2 * time.Hour,
		Dt:                   time.Hour,
		StartFromRestart:     true,
		RestartTimestampFile: path,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Now().Equal(resume) {
		t.Errorf("restart clock starts at %v, want %v", c.Now(), resume)
	}
	c.Advance()
	c.Advance()
	if !c.IsStopTime() {
		t.Error("run duration should be measured from the restart time")
	}
}
