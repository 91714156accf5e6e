// Package midiclock turns a selected tempo into a 24-PPQN MIDI clock
// stream (spec §4.7): Start/Stop/Clock bytes over a hardware or virtual
// MIDI output, optionally accompanied by a note on/off pulse per beat.
package midiclock

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Sink is anything that can receive raw MIDI bytes. Hardware ports and the
// null sink both implement it, mirroring the teacher's pattern of never
// letting higher-level code depend on a concrete driver type directly
// (scgolang-oscsync keeps its UDP conn behind an interface the same way).
type Sink interface {
	Send(msg []byte) error
	Close() error
}

// ListPorts returns the names of available MIDI output ports, for
// --midi-list-ports (spec supplemented feature).
func ListPorts() ([]string, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, errors.Wrap(err, "rtmididrv")
	}
	defer drv.Close()
	outs, err := drv.Outs()
	if err != nil {
		return nil, errors.Wrap(err, "list midi outputs")
	}
	names := make([]string, 0, len(outs))
	for _, o := range outs {
		names = append(names, o.String())
	}
	return names, nil
}

// hardwareSink sends clock bytes out a real MIDI output port via rtmidi.
type hardwareSink struct {
	drv *rtmididrv.Driver
	out drivers.Out
}

// OpenHardwareSink opens the first output port whose name contains name
// (case-insensitive); an empty name opens the first available port.
func OpenHardwareSink(name string) (Sink, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, errors.Wrap(err, "rtmididrv")
	}
	outs, err := drv.Outs()
	if err != nil {
		drv.Close()
		return nil, errors.Wrap(err, "list midi outputs")
	}
	var chosen drivers.Out
	for _, o := range outs {
		if name == "" || strings.Contains(strings.ToLower(o.String()), strings.ToLower(name)) {
			chosen = o
			break
		}
	}
	if chosen == nil {
		drv.Close()
		return nil, errors.Errorf("midi output %q not found", name)
	}
	if err := chosen.Open(); err != nil {
		drv.Close()
		return nil, errors.Wrapf(err, "open midi output %q", chosen.String())
	}
	return &hardwareSink{drv: drv, out: chosen}, nil
}

func (s *hardwareSink) Send(msg []byte) error {
	return s.out.Send(msg)
}

func (s *hardwareSink) Close() error {
	err := s.out.Close()
	s.drv.Close()
	return err
}

// nullSink discards everything; used headless and in tests. Send/Sent are
// mutex-guarded since Generator.Run drives a sink from its own timing
// goroutine while tests poll Sent() from another.
type nullSink struct {
	mu   sync.Mutex
	sent [][]byte
}

// NewNullSink returns a Sink that records every message sent to it without
// touching any hardware.
func NewNullSink() *nullSink { return &nullSink{} }

func (s *nullSink) Send(msg []byte) error {
	cp := append([]byte(nil), msg...)
	s.mu.Lock()
	s.sent = append(s.sent, cp)
	s.mu.Unlock()
	return nil
}

func (s *nullSink) Close() error { return nil }

// Sent returns every message recorded so far, for tests.
func (s *nullSink) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}
