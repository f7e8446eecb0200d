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
	"encoding/gob"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Direction distinguishes input alarms and streams from output ones.
type Direction int

const (
	// Input streams are read into the model state.
	Input Direction = iota
	// Output streams are written from the model state.
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Well-known stream names.
const (
	StreamInput   = "input"   // cold start initial conditions
	StreamRestart = "restart" // persisted state for resuming a run
	StreamOutput  = "output"  // regular model output
	StreamForcing = "forcing" // time-varying forcing samples
)

// A StreamGateway reads and writes named data streams keyed by alarm
// state. Implementations may block on external storage.
type StreamGateway interface {
	// Read loads the named stream into bs. For time-varying forcing
	// streams, the most recent previously-available sample is used;
	// there is no interpolation.
	Read(stream string, bs *BlockSet) error

	// Write persists bs to the named stream. If forceNow is false the
	// write is skipped unless an output alarm for the stream is
	// ringing.
	Write(stream string, bs *BlockSet, forceNow bool) error

	// RingingAlarms returns the ringing alarms for the stream in the
	// given direction.
	RingingAlarms(stream string, dir Direction) []string

	// ResetAlarms returns the stream's alarms in the given direction
	// to the armed state.
	ResetAlarms(stream string, dir Direction)
}

// forcingSample is the payload of one forcing stream sample: one state
// per block, in block order. Fields left nil in a sample are not
// updated.
type forcingSample struct {
	States []*BlockState
}

// FileGateway is a StreamGateway backed by gob files in a directory.
// Plain streams are single files named <stream>.gob; forcing streams
// are subdirectories containing one timestamped sample file each.
type FileGateway struct {
	Dir   string
	Clock *Clock
}

// NewFileGateway creates a gateway rooted at dir, consulting clock for
// alarm state and the current simulated time.
func NewFileGateway(dir string, clock *Clock) *FileGateway {
	return &FileGateway{Dir: dir, Clock: clock}
}

const sampleTimeLayout = "20060102_150405"

func (g *FileGateway) streamPath(stream string) string {
	return filepath.Join(g.Dir, stream+".gob")
}

// Read implements StreamGateway. Reading a plain stream replaces the
// entire block set; reading a forcing stream overwrites the current
// state fields present in the latest sample at or before the current
// simulated time.
func (g *FileGateway) Read(stream string, bs *BlockSet) error {
	if dir := filepath.Join(g.Dir, stream); isDir(dir) {
		return g.readForcing(dir, stream, bs)
	}
	f, err := os.Open(g.streamPath(stream))
	if err != nil {
		return fmt.Errorf("geosim: opening stream %q: %v", stream, err)
	}
	defer f.Close()
	var blocks []*Block
	if err := gob.NewDecoder(f).Decode(&blocks); err != nil {
		return fmt.Errorf("geosim: decoding stream %q: %v", stream, err)
	}
	bs.Blocks = blocks
	bs.fix()
	return nil
}

func (g *FileGateway) readForcing(dir, stream string, bs *BlockSet) error {
	name, err := latestSampleBefore(dir, g.Clock.Now())
	if err != nil {
		return fmt.Errorf("geosim: stream %q: %v", stream, err)
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("geosim: opening forcing sample %q: %v", name, err)
	}
	defer f.Close()
	var sample forcingSample
	if err := gob.NewDecoder(f).Decode(&sample); err != nil {
		return fmt.Errorf("geosim: decoding forcing sample %q: %v", name, err)
	}
	if len(sample.States) != len(bs.Blocks) {
		return fmt.Errorf("geosim: forcing sample %q has %d blocks; domain has %d",
			name, len(sample.States), len(bs.Blocks))
	}
	for i, b := range bs.Blocks {
		s := sample.States[i]
		if s == nil {
			continue
		}
		s.fix()
		if s.NormalVelocity != nil {
			b.Cur.NormalVelocity = s.NormalVelocity
		}
		if s.LayerThickness != nil {
			b.Cur.LayerThickness = s.LayerThickness
		}
		if s.Temperature != nil {
			b.Cur.Temperature = s.Temperature
		}
	}
	return nil
}

// latestSampleBefore returns the sample file in dir with the greatest
// timestamp not after t.
func latestSampleBefore(dir string, t time.Time) (string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".gob") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	best := ""
	for _, name := range names {
		st, err := time.Parse(sampleTimeLayout, strings.TrimSuffix(name, ".gob"))
		if err != nil {
			continue
		}
		if !st.After(t) {
			best = name
		}
	}
	if best == "" {
		return "", fmt.Errorf("no forcing sample at or before %v", t)
	}
	return best, nil
}

// WriteForcingSample stores states as the forcing sample for time t.
// It is used by preprocessing tools and tests to populate a forcing
// stream.
func (g *FileGateway) WriteForcingSample(stream string, t time.Time, states []*BlockState) error {
	dir := filepath.Join(g.Dir, stream)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return fmt.Errorf("geosim: creating forcing stream %q: %v", stream, err)
	}
	f, err := os.Create(filepath.Join(dir, t.UTC().Format(sampleTimeLayout)+".gob"))
	if err != nil {
		return fmt.Errorf("geosim: creating forcing sample: %v", err)
	}
	defer f.Close()
	return gob.NewEncoder(f).Encode(&forcingSample{States: states})
}

// Write implements StreamGateway.
func (g *FileGateway) Write(stream string, bs *BlockSet, forceNow bool) error {
	if !forceNow && len(g.RingingAlarms(stream, Output)) == 0 {
		return nil
	}
	if err := os.MkdirAll(g.Dir, os.ModePerm); err != nil {
		return fmt.Errorf("geosim: creating stream directory: %v", err)
	}
	f, err := os.Create(g.streamPath(stream))
	if err != nil {
		return fmt.Errorf("geosim: creating stream %q: %v", stream, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(bs.Blocks); err != nil {
		return fmt.Errorf("geosim: encoding stream %q: %v", stream, err)
	}
	return nil
}

// RingingAlarms implements StreamGateway.
func (g *FileGateway) RingingAlarms(stream string, dir Direction) []string {
	return g.Clock.RingingAlarms(stream, dir)
}

// ResetAlarms implements StreamGateway.
func (g *FileGateway) ResetAlarms(stream string, dir Direction) {
	for _, id := range g.Clock.RingingAlarms(stream, dir) {
		g.Clock.ResetAlarm(id)
	}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// WriteRestartTimestamp persists t as the restart timestamp record: a
// single durable value, overwritten not appended, from which a
// subsequent run resumes. It must be written before or together with
// the restart data so the two remain consistent.
func WriteRestartTimestamp(path string, t time.Time) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("geosim: creating restart timestamp directory: %v", err)
	}
	tmp := path + ".tmp"
	if err := ioutil.WriteFile(tmp, []byte(t.UTC().Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("geosim: writing restart timestamp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("geosim: writing restart timestamp: %v", err)
	}
	return nil
}

// ReadRestartTimestamp reads the timestamp persisted by
// WriteRestartTimestamp.
func ReadRestartTimestamp(path string) (time.Time, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("geosim: reading restart timestamp: %v", err)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(b)))
	if err != nil {
		return time.Time{}, fmt.Errorf("geosim: parsing restart timestamp: %v", err)
	}
	return t, nil
}
