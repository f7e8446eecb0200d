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

// Package geosimutil holds the configuration surface and commands of
// the geosim executable.
package geosimutil

import (
	"fmt"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/geosim"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is the version of this release of GeoSim.
const Version = "0.3.0"

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to GeoSim.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Clock.StartTime",
			usage: `
              Clock.StartTime is the simulated start time of the run in
              RFC 3339 format. Ignored when starting from a restart.`,
			defaultVal: "2000-01-01T00:00:00Z",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.StopTime",
			usage: `
              Clock.StopTime is the simulated end time of the run in RFC 3339
              format. Mutually exclusive with Clock.RunDuration; if both are
              given they are cross-checked and the stop time wins.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.RunDuration",
			usage: `
              Clock.RunDuration is the simulated length of the run (Go
              duration syntax, e.g. 240h).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.Dt",
			usage: `
              Clock.Dt is the fixed step interval.`,
			defaultVal: "30m",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.OutputInterval",
			usage: `
              Clock.OutputInterval is the cadence of the output stream alarm.`,
			defaultVal: "24h",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.RestartInterval",
			usage: `
              Clock.RestartInterval is the cadence of the restart stream alarm.`,
			defaultVal: "240h",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.ForcingInterval",
			usage: `
              Clock.ForcingInterval is the cadence of the forcing input alarm.
              Empty disables forcing reads.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Clock.AnalysisInterval",
			usage: `
              Clock.AnalysisInterval is the cadence of the analysis member
              alarm. Empty disables the analysis.`,
			defaultVal: "24h",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "ColdStart",
			usage: `
              ColdStart selects the cold start input stream for initial
              conditions. If false, the run resumes from the restart stream
              and the persisted restart timestamp.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "WriteInitialOutput",
			usage: `
              WriteInitialOutput forces an output write immediately after
              initialization.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "StreamDir",
			usage: `
              StreamDir is the directory holding the input, restart, output,
              and forcing streams.`,
			defaultVal: "streams",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "RestartTimestampFile",
			usage: `
              RestartTimestampFile is the location of the restart timestamp
              record: a single overwritten timestamp from which a subsequent
              run resumes.`,
			defaultVal: "streams/restart_timestamp",
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Analysis.NBins",
			usage: `
              Analysis.NBins is the number of spatial bins used by the heat
              transport analysis member.`,
			defaultVal: 180,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Analysis.MinBoundary",
			usage: `
              Analysis.MinBoundary overrides the measured minimum of the
              binning variable. Values at or below -1e33 leave it unset.`,
			defaultVal: geosim.UnsetBoundary(),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Analysis.MaxBoundary",
			usage: `
              Analysis.MaxBoundary overrides the measured maximum of the
              binning variable. Values at or below -1e33 leave it unset.`,
			defaultVal: geosim.UnsetBoundary(),
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "SphericalMesh",
			usage: `
              SphericalMesh declares the mesh spherical, so latitude is the
              binning variable; otherwise the planar Y coordinate is used.`,
			defaultVal: true,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Cluster.Rank",
			usage: `
              Cluster.Rank is this process's index within the run,
              0 <= rank < size.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags()},
		},
		{
			name: "Cluster.Size",
			usage: `
              Cluster.Size is the number of cooperating processes. 1 runs
              without a reduce hub.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), hubCmd.Flags()},
		},
		{
			name: "Cluster.HubAddr",
			usage: `
              Cluster.HubAddr is the TCP address of the reduce hub.`,
			defaultVal: "localhost:6060",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), hubCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("GEOSIM")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch v := option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, v, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, v, option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, v, option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, v, option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, v, option.usage)
				} else {
					set.IntP(option.name, option.shorthand, v, option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, v, option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, v, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(hubCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("geosim: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "geosim",
	Short: "A distributed geophysical simulation driver.",
	Long: `GeoSim advances a spatially decomposed geophysical state through
simulated time across cooperating processes, coordinating alarm-triggered
input and output and aggregating per-partition error status into a single
go/no-go decision each step.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'GEOSIM_var' where 'var' is
the name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of GeoSim.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("GeoSim v%s\n", Version)
	},
	DisableAutoGenTag: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation.",
	Long: `run advances the model from its initial conditions (or a restart)
to the configured stop time. Every process of a multi-process run executes
this command with its own Cluster.Rank; rank 0 additionally hosts the
reduce hub.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Run(Cfg)
	},
	DisableAutoGenTag: true,
}

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Run a standalone reduce hub.",
	Long: `hub serves collective reductions for a multi-process run whose
rank 0 is not hosting the hub itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		h := geosim.NewReduceHub(Cfg.GetInt("Cluster.Size"))
		l, err := h.Listen(Cfg.GetString("Cluster.HubAddr"))
		if err != nil {
			return err
		}
		logrus.WithField("address", l.Addr().String()).Info("geosim: reduce hub listening")
		select {} // Serve until killed.
	},
	DisableAutoGenTag: true,
}

// Execute runs the root command, exiting nonzero on failure.
func Execute() {
	if err := Root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}
