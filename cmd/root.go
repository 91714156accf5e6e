// Copyright © 2017 NAME HERE <EMAIL ADDRESS>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"net"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/prodj/link-core/internal/logging"
	"github.com/prodj/link-core/pkg/beatclock"
	"github.com/prodj/link-core/pkg/link"
	"github.com/prodj/link-core/pkg/midiclock"
	"github.com/prodj/link-core/pkg/registry"
)

// Exit codes (SPEC_FULL.md §6 CLI).
const (
	exitOK                  = 0
	exitInterfaceUnusable   = 2
	exitDeviceNumberUnresolvable = 3
)

var rootFlags struct {
	iface        string
	deviceNumber uint8
	logLevel     string
	midiPort     string
	listPorts    bool
	pin          uint8
	manualBPM    float64
	noteMode     string
	noteBase     uint8
	passive      bool
}

// RootCmd is the top-level command. It both configures and runs the link
// core; this is a single-command CLI, so all flags live here rather than
// being split across subcommands the way the teacher splits serve/tempo.
var RootCmd = &cobra.Command{
	Use:   "link-core",
	Short: "Run a ProDJ Link protocol core",
	Long:  `link-core joins a ProDJ Link network: discovery, master negotiation, player tracking, and a 24-PPQN MIDI clock output.`,
	RunE:  runRoot,
}

func init() {
	flags := RootCmd.Flags()
	flags.StringVar(&rootFlags.iface, "iface", "", "network interface to bind (informational; sockets listen on all interfaces)")
	flags.Uint8Var(&rootFlags.deviceNumber, "device-number", 0, "preferred player device number 1-4 (0 = pick lowest free)")
	flags.StringVar(&rootFlags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flags.StringVar(&rootFlags.midiPort, "midi-port", "", "MIDI output port name substring (empty = first available when --note-mode is not none; with --note-mode none and no port, MIDI goes to a null sink)")
	flags.BoolVar(&rootFlags.listPorts, "midi-list-ports", false, "list available MIDI output ports and exit")
	flags.Uint8Var(&rootFlags.pin, "pin", 0, "pin the BPM source to this device number instead of following the network master")
	flags.Float64Var(&rootFlags.manualBPM, "manual-bpm", 0, "use a fixed manual BPM instead of following the network")
	flags.StringVar(&rootFlags.noteMode, "note-mode", "none", "per-beat MIDI note pulse: none, single, cycle4")
	flags.Uint8Var(&rootFlags.noteBase, "note-base", 60, "base MIDI note for --note-mode single/cycle4")
	flags.BoolVar(&rootFlags.passive, "passive", false, "join passively: observe the network without claiming a device number or sending keepalives")
}

// Execute runs the root command, exiting the process with the
// appropriate code on failure.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, errInterfaceUnusable):
		return exitInterfaceUnusable
	case errors.Is(err, registry.ErrNoFreeDeviceNumber):
		return exitDeviceNumberUnresolvable
	default:
		return 1
	}
}

var errInterfaceUnusable = errors.New("cmd: network interface unusable")

func runRoot(cmd *cobra.Command, args []string) error {
	logging.SetLevel(rootFlags.logLevel)
	log := logging.For("cmd")

	if rootFlags.listPorts {
		return listMIDIPorts()
	}

	if rootFlags.iface != "" {
		if _, err := net.InterfaceByName(rootFlags.iface); err != nil {
			return errors.Wrapf(errInterfaceUnusable, "interface %q: %v", rootFlags.iface, err)
		}
	}

	var sink midiclock.Sink
	if rootFlags.noteMode != "none" || rootFlags.midiPort != "" {
		s, err := midiclock.OpenHardwareSink(rootFlags.midiPort)
		if err != nil {
			log.Warn().Err(err).Msg("cmd: falling back to a null MIDI sink")
			sink = midiclock.NewNullSink()
		} else {
			sink = s
			defer s.Close()
		}
	} else {
		sink = midiclock.NewNullSink()
	}

	noteMode, err := parseNoteMode(rootFlags.noteMode)
	if err != nil {
		return err
	}

	source := resolveBPMSource()

	cfg := link.Config{
		PreferredDeviceNumber: rootFlags.deviceNumber,
		Name:                  "link-core",
		PassiveJoin:           rootFlags.passive,
		BPMSource:             source,
		MIDISink:              sink,
		MIDIConfig: midiclock.Config{
			Mode:     noteMode,
			Note:     rootFlags.noteBase,
			Channel:  0,
			Velocity: 100,
		},
		Logger: logging.Logger(),
	}
	core := link.New(cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Info().Msg("cmd: interrupt received, shutting down")
		cancel()
	}()

	err = core.Run(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func parseNoteMode(s string) (midiclock.NoteMode, error) {
	switch s {
	case "none":
		return midiclock.NoteModeNone, nil
	case "single":
		return midiclock.NoteModeSingle, nil
	case "cycle4":
		return midiclock.NoteModeCycle4, nil
	default:
		return midiclock.NoteModeNone, errors.Errorf("cmd: unknown --note-mode %q", s)
	}
}

func resolveBPMSource() beatclock.Source {
	switch {
	case rootFlags.manualBPM > 0:
		return beatclock.Source{Kind: beatclock.SourceManual, ManualBPMCenti: uint32(rootFlags.manualBPM*100 + 0.5)}
	case rootFlags.pin != 0:
		return beatclock.Source{Kind: beatclock.SourcePin, PinDevice: rootFlags.pin}
	default:
		return beatclock.Source{Kind: beatclock.SourceFollowNetworkMaster}
	}
}

func listMIDIPorts() error {
	ports, err := midiclock.ListPorts()
	if err != nil {
		return err
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
