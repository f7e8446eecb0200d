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
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// ClockConfig holds the time bounds of a simulation. Exactly one of
// Stop and Duration must be set; if both are set they are cross-checked
// for consistency and Stop wins. If StartFromRestart is true, the start
// time is read from the restart timestamp record at RestartTimestampFile
// instead of Start, so a run resumes exactly where the previous one
// stopped.
type ClockConfig struct {
	Start                time.Time
	Stop                 time.Time
	Duration             time.Duration
	Dt                   time.Duration
	StartFromRestart     bool
	RestartTimestampFile string
}

// ClockConfigError describes an invalid clock configuration. It is
// fatal and detected at construction.
type ClockConfigError struct {
	Problem string
}

func (e *ClockConfigError) Error() string {
	return "geosim: clock configuration: " + e.Problem
}

// Clock tracks the simulated time of a run and the set of alarms that
// trigger input, output, restart, and analysis activity. Advance is the
// only way the current time changes.
type Clock struct {
	start, stop, now time.Time
	dt               time.Duration
	alarms           map[string]*Alarm
}

// NewClock creates a simulation clock from c.
func NewClock(c ClockConfig, log *logrus.Logger) (*Clock, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	start := c.Start
	if c.StartFromRestart {
		t, err := ReadRestartTimestamp(c.RestartTimestampFile)
		if err != nil {
			return nil, fmt.Errorf("geosim: reading restart timestamp: %v", err)
		}
		start = t
	}
	if c.Dt <= 0 {
		return nil, &ClockConfigError{Problem: "step interval must be positive"}
	}
	if c.Stop.IsZero() && c.Duration == 0 {
		return nil, &ClockConfigError{Problem: "neither a run duration nor a stop time is configured"}
	}
	stop := c.Stop
	if stop.IsZero() {
		stop = start.Add(c.Duration)
	} else if c.Duration != 0 && !start.Add(c.Duration).Equal(c.Stop) {
		log.WithFields(logrus.Fields{
			"stop":     c.Stop,
			"computed": start.Add(c.Duration),
		}).Warn("geosim: configured stop time disagrees with start time plus run duration; using the stop time")
	}
	if stop.Before(start) {
		return nil, &ClockConfigError{Problem: "stop time is before start time"}
	}
	return &Clock{
		start:  start,
		stop:   stop,
		now:    start,
		dt:     c.Dt,
		alarms: make(map[string]*Alarm),
	}, nil
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Time { return c.now }

// Start returns the start time of the run.
func (c *Clock) Start() time.Time { return c.start }

// StepSeconds returns the elapsed seconds of the next step, anchored at
// the pre-advance current time. It must be queried before Advance so
// that calendar effects in the step interval are attributed to the
// correct step.
func (c *Clock) StepSeconds() float64 {
	return c.now.Add(c.dt).Sub(c.now).Seconds()
}

// Advance moves the current time forward by one step interval and
// updates the ringing state of all alarms.
func (c *Clock) Advance() {
	prev := c.now
	c.now = c.now.Add(c.dt)
	for _, a := range c.alarms {
		a.update(prev, c.now)
	}
}

// IsStopTime reports whether the current time has reached the
// configured end of the run. It is the run loop's sole termination
// predicate.
func (c *Clock) IsStopTime() bool {
	return !c.now.Before(c.stop)
}

// AddAlarm attaches a to the clock. Alarm IDs must be unique.
func (c *Clock) AddAlarm(a *Alarm) error {
	if _, ok := c.alarms[a.ID]; ok {
		return fmt.Errorf("geosim: duplicate alarm %q", a.ID)
	}
	if a.Ref.IsZero() {
		a.Ref = c.start
	}
	c.alarms[a.ID] = a
	return nil
}

// RingingAlarms returns the IDs of the alarms attached to stream in
// direction dir that are currently ringing, in deterministic order.
func (c *Clock) RingingAlarms(stream string, dir Direction) []string {
	var ids []string
	for id, a := range c.alarms {
		if a.ringing && a.Stream == stream && a.Dir == dir {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// AlarmRinging reports whether the named alarm is currently ringing.
func (c *Clock) AlarmRinging(id string) bool {
	a, ok := c.alarms[id]
	return ok && a.ringing
}

// ResetAlarm returns the named alarm from ringing to armed. Resetting
// an alarm that is not ringing, or that does not exist, has no effect.
func (c *Clock) ResetAlarm(id string) {
	if a, ok := c.alarms[id]; ok {
		a.ringing = false
	}
}

// ResetAll returns every alarm to the armed state. It is called after
// loading persisted state so that no stale ringing state from the
// loaded stream survives into the run.
func (c *Clock) ResetAll() {
	for _, a := range c.alarms {
		a.ringing = false
	}
}

// An Alarm is a boundary condition over the simulation clock: it moves
// from armed to ringing when the clock crosses a configured interval
// boundary (or the single fire time if Interval is zero), and back to
// armed when the consumer resets it. Interval alarms recur for the
// duration of the run.
type Alarm struct {
	ID     string
	Stream string
	Dir    Direction

	// Interval is the recurrence cadence. If zero, the alarm fires
	// once, at Ref.
	Interval time.Duration

	// Ref anchors the interval boundaries. It defaults to the clock's
	// start time when the alarm is attached.
	Ref time.Time

	ringing bool
	fired   bool
}

// Ringing reports whether the alarm is currently ringing.
func (a *Alarm) Ringing() bool { return a.ringing }

func (a *Alarm) update(prev, now time.Time) {
	if a.Interval <= 0 {
		if !a.fired && prev.Before(a.Ref) && !now.Before(a.Ref) {
			a.ringing = true
			a.fired = true
		}
		return
	}
	// The most recent interval boundary at or before now; the alarm
	// rings if the step from prev to now crossed it.
	if now.Before(a.Ref) {
		return
	}
	k := now.Sub(a.Ref) / a.Interval
	boundary := a.Ref.Add(k * a.Interval)
	if boundary.After(prev) && !boundary.After(now) {
		a.ringing = true
	}
}
