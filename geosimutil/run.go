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

package geosimutil

import (
	"fmt"
	"os"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geosim"
	"github.com/spf13/cast"
)

// DefaultPhysicsFuncs are the block manipulators run each step. The
// physical parameterizations are external collaborators; the default
// carries the state forward unchanged.
var DefaultPhysicsFuncs = []geosim.BlockManipulator{
	geosim.HoldState(),
}

// Alarm IDs used by the canonical run assembly.
const (
	outputAlarm   = "output"
	restartAlarm  = "restart"
	forcingAlarm  = "forcing"
	analysisAlarm = "analysis"
)

func getTime(cfg *viper.Viper, name string) (time.Time, error) {
	s := cast.ToString(cfg.Get(name))
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("geosim: parsing %s: %v", name, err)
	}
	return t, nil
}

func getDuration(cfg *viper.Viper, name string) (time.Duration, error) {
	s := cast.ToString(cfg.Get(name))
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("geosim: parsing %s: %v", name, err)
	}
	return d, nil
}

// clockFromConfig builds the simulation clock and its alarms.
func clockFromConfig(cfg *viper.Viper, log *logrus.Logger) (*geosim.Clock, error) {
	start, err := getTime(cfg, "Clock.StartTime")
	if err != nil {
		return nil, err
	}
	stop, err := getTime(cfg, "Clock.StopTime")
	if err != nil {
		return nil, err
	}
	duration, err := getDuration(cfg, "Clock.RunDuration")
	if err != nil {
		return nil, err
	}
	dt, err := getDuration(cfg, "Clock.Dt")
	if err != nil {
		return nil, err
	}
	clock, err := geosim.NewClock(geosim.ClockConfig{
		Start:                start,
		Stop:                 stop,
		Duration:             duration,
		Dt:                   dt,
		StartFromRestart:     !cfg.GetBool("ColdStart"),
		RestartTimestampFile: cfg.GetString("RestartTimestampFile"),
	}, log)
	if err != nil {
		return nil, err
	}

	alarms := []struct {
		id, interval, stream string
		dir                  geosim.Direction
	}{
		{outputAlarm, "Clock.OutputInterval", geosim.StreamOutput, geosim.Output},
		{restartAlarm, "Clock.RestartInterval", geosim.StreamRestart, geosim.Output},
		{forcingAlarm, "Clock.ForcingInterval", geosim.StreamForcing, geosim.Input},
		{analysisAlarm, "Clock.AnalysisInterval", geosim.StreamOutput, geosim.Output},
	}
	for _, a := range alarms {
		interval, err := getDuration(cfg, a.interval)
		if err != nil {
			return nil, err
		}
		if interval == 0 {
			continue
		}
		err = clock.AddAlarm(&geosim.Alarm{
			ID:       a.id,
			Stream:   a.stream,
			Dir:      a.dir,
			Interval: interval,
		})
		if err != nil {
			return nil, err
		}
	}
	return clock, nil
}

// reducerFromConfig selects the reduction backend: serial for
// single-process runs; otherwise the reduce hub (hosted here on rank 0)
// dialed over TCP.
func reducerFromConfig(cfg *viper.Viper, log *logrus.Logger) (geosim.Reducer, error) {
	size := cfg.GetInt("Cluster.Size")
	if size <= 1 {
		return geosim.SerialReducer{}, nil
	}
	rank := cfg.GetInt("Cluster.Rank")
	addr := cfg.GetString("Cluster.HubAddr")
	if rank == 0 {
		h := geosim.NewReduceHub(size)
		if _, err := h.Listen(addr); err != nil {
			return nil, err
		}
		log.WithField("address", addr).Info("geosim: hosting reduce hub")
	}
	return geosim.DialReducer(addr, rank, size, log)
}

// DriverFromConfig assembles the canonical run: initial conditions,
// analysis setup, the physics step, time-level shift, forcing reads,
// restart and output writes, and step logging.
func DriverFromConfig(cfg *viper.Viper, log *logrus.Logger) (*geosim.Driver, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	clock, err := clockFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	reducer, err := reducerFromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	gateway := geosim.NewFileGateway(cfg.GetString("StreamDir"), clock)

	analysis, err := geosim.NewHeatTransport(geosim.BinnerConfig{
		NBins:       cfg.GetInt("Analysis.NBins"),
		MinBoundary: cfg.GetFloat64("Analysis.MinBoundary"),
		MaxBoundary: cfg.GetFloat64("Analysis.MaxBoundary"),
		Spherical:   cfg.GetBool("SphericalMesh"),
	}, reducer)
	if err != nil {
		return nil, err
	}

	logStep, logSummary := geosim.Log(os.Stdout)

	d := &geosim.Driver{
		Clock:   clock,
		Blocks:  &geosim.BlockSet{},
		Reducer: reducer,
		Gateway: gateway,
		Log:     log,
		InitFuncs: []geosim.DomainManipulator{
			geosim.InitialConditions(!cfg.GetBool("ColdStart")),
			analysis.InitMember(),
		},
		StepFuncs: []geosim.DomainManipulator{
			geosim.StepBlocks(DefaultPhysicsFuncs...),
			geosim.ShiftTimeLevels(),
			geosim.ReadForcing(geosim.StreamForcing),
			geosim.RunWhenRinging(analysisAlarm, analysis.ComputeMember()),
			geosim.WriteRestart(cfg.GetString("RestartTimestampFile")),
			geosim.WriteOutput(geosim.StreamOutput),
			logStep,
		},
		CleanupFuncs: []geosim.DomainManipulator{
			logSummary,
		},
	}
	if cfg.GetBool("WriteInitialOutput") {
		d.InitFuncs = append(d.InitFuncs, geosim.ForceOutput(geosim.StreamOutput))
	}
	return d, nil
}

// Run executes a complete simulation from cfg.
func Run(cfg *viper.Viper) error {
	log := logrus.StandardLogger()
	d, err := DriverFromConfig(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Init(); err != nil {
		return fmt.Errorf("geosim: problem initializing model: %v", err)
	}
	if err := d.Run(); err != nil {
		return fmt.Errorf("geosim: problem running simulation: %v", err)
	}
	return d.Cleanup()
}
