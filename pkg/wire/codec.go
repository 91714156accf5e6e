// Package wire implements bit-exact encoders and decoders for the ProDJ
// Link packet kinds used by the core. Every packet is dispatched by its
// type byte (and, for the handful of type bytes that are reused across
// sockets, by the receiving port) the way the vendored syncosc package in
// the pack dispatches OSC addresses to typed Pulse/tempo structs — one
// struct and one parse function per wire message, no interface{}.
package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Magic is the 10-byte prefix ("Qspt1WmJOL") every packet starts with.
var Magic = [10]byte{0x51, 0x73, 0x70, 0x74, 0x31, 0x57, 0x6D, 0x4A, 0x4F, 0x4C}

const (
	headerMagicLen  = 10
	headerNameLen   = 20
	headerFixedLen  = headerMagicLen + 1 /*type*/ + headerNameLen + 1 /*device number*/
	nameOffset      = headerMagicLen + 1
	deviceNumOffset = nameOffset + headerNameLen

	// pitchCenter is the 32-bit fixed-point pitch value observed to mean
	// +0% playback speed. Inferred from observed traffic; spec §9 flags
	// this as needing confirmation against captured hardware dumps.
	pitchCenter uint32 = 0x00100000

	// bpmNoTempoSentinel marks "no tempo available" in a beat/status BPM
	// field; receivers must retain the previous BPM when they see it.
	bpmNoTempoSentinel uint16 = 0xFFFF
)

// NoTempoSentinel is the exported form of bpmNoTempoSentinel, for callers
// synthesizing outbound beat/status packets when no tempo is available.
const NoTempoSentinel = bpmNoTempoSentinel

// PitchCenter is the exported form of pitchCenter: the wire pitch value
// meaning +0% playback speed. A PlayerState or packet whose Pitch field was
// never set off the wire (the Go zero value, 0) does not mean this — it
// means nothing was decoded yet, so callers treat 0 as "unknown, assume
// neutral" rather than feeding it through PitchFactor as a genuine -100%.
const PitchCenter = pitchCenter

// Type bytes. Some are reused across sockets; Decode disambiguates using
// the receiving port, matching the real protocol's overloaded byte 0x02
// and 0x06.
const (
	TypeIDRequest           byte = 0x00
	TypeIDResponseOrFader   byte = 0x02 // 50000: ID response, 50001: fader-start
	TypeKeepaliveOrStatus   byte = 0x06 // 50000: keepalive, 50002: full CDJ status
	TypeCDJStatus           byte = 0x05
	TypeBeat                byte = 0x0A
	TypeMixerStatus         byte = 0x10
	TypeLoadTrack           byte = 0x19
	TypeMasterClaim         byte = 0x26
	TypeMasterYieldRequest  byte = 0x29
	TypeMasterYieldResponse byte = 0x2A
)

// Well-known ports.
const (
	PortDiscovery     = 50000
	PortBeatBroadcast = 50001
	PortStatusUnicast = 50002
)

// DeviceKind classifies a device by its announced type.
type DeviceKind byte

const (
	KindUnknown DeviceKind = iota
	KindCDJ
	KindDJM
	KindRekordbox
)

// Slot identifies the media slot a track is loaded from.
type Slot byte

const (
	SlotNone Slot = iota
	SlotSD
	SlotUSB
	SlotCD
	SlotRekordboxCollection
)

// Packet is implemented by every decoded packet kind.
type Packet interface {
	// Type returns the wire type byte this packet encodes as.
	Type() byte
	// Encode serializes the packet back to its bit-exact wire form.
	Encode(deviceNumber byte, name string) []byte
}

// Unrecognized wraps a packet whose type byte has no decoder registered
// for its receiving port. It is forwarded to a debug sink by the caller,
// never treated as fatal (spec §4.1 decoder contract).
type Unrecognized struct {
	WireType byte
	Payload  []byte
}

func (u Unrecognized) Type() byte { return u.WireType }
func (u Unrecognized) Encode(deviceNumber byte, name string) []byte {
	return buildHeader(u.WireType, deviceNumber, name, u.Payload)
}

// Decode errors.
var (
	ErrBadMagic  = errors.New("wire: bad magic")
	ErrTruncated = errors.New("wire: truncated packet")
)

func buildHeader(typ byte, deviceNumber byte, name string, payload []byte) []byte {
	buf := make([]byte, headerFixedLen+len(payload))
	copy(buf[0:headerMagicLen], Magic[:])
	buf[headerMagicLen] = typ
	nameBytes := []byte(name)
	if len(nameBytes) > headerNameLen {
		nameBytes = nameBytes[:headerNameLen]
	}
	copy(buf[nameOffset:nameOffset+headerNameLen], nameBytes)
	buf[deviceNumOffset] = deviceNumber
	copy(buf[headerFixedLen:], payload)
	return buf
}

type header struct {
	typ          byte
	deviceNumber byte
	name         string
	payload      []byte
}

func parseHeader(data []byte) (header, error) {
	if len(data) < headerFixedLen {
		return header{}, ErrTruncated
	}
	for i := 0; i < headerMagicLen; i++ {
		if data[i] != Magic[i] {
			return header{}, ErrBadMagic
		}
	}
	nameRaw := data[nameOffset : nameOffset+headerNameLen]
	end := len(nameRaw)
	for end > 0 && nameRaw[end-1] == 0 {
		end--
	}
	return header{
		typ:          data[headerMagicLen],
		deviceNumber: data[deviceNumOffset],
		name:         string(nameRaw[:end]),
		payload:      data[headerFixedLen:],
	}, nil
}

// Decode parses a single packet received on the given port. port
// disambiguates the type bytes that mean different things on different
// sockets (0x02, 0x06). bad-magic and truncated packets are returned as
// errors the caller is expected to drop silently (spec §4.1); unrecognized
// types are returned as an Unrecognized value with a nil error so callers
// can forward them to a debug sink without treating them as fatal.
func Decode(port int, data []byte) (Packet, string, byte, error) {
	h, err := parseHeader(data)
	if err != nil {
		return nil, "", 0, err
	}
	var p Packet
	switch h.typ {
	case TypeIDRequest:
		p, err = decodeIDRequest(h)
	case TypeIDResponseOrFader:
		switch port {
		case PortDiscovery:
			p, err = decodeIDResponse(h)
		case PortBeatBroadcast:
			p, err = decodeFaderStart(h)
		default:
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeKeepaliveOrStatus:
		switch port {
		case PortDiscovery:
			p, err = decodeKeepalive(h)
		case PortStatusUnicast:
			p, err = decodeCDJStatus(h, true)
		default:
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeCDJStatus:
		if port == PortStatusUnicast {
			p, err = decodeCDJStatus(h, false)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeBeat:
		if port == PortBeatBroadcast {
			p, err = decodeBeat(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeMixerStatus:
		if port == PortBeatBroadcast {
			p, err = decodeMixerStatus(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeLoadTrack:
		if port == PortStatusUnicast {
			p, err = decodeLoadTrack(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeMasterClaim:
		if port == PortBeatBroadcast {
			p, err = decodeMasterClaim(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeMasterYieldRequest:
		if port == PortStatusUnicast {
			p, err = decodeMasterYieldRequest(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	case TypeMasterYieldResponse:
		if port == PortStatusUnicast {
			p, err = decodeMasterYieldResponse(h)
		} else {
			p = Unrecognized{WireType: h.typ, Payload: h.payload}
		}
	default:
		p = Unrecognized{WireType: h.typ, Payload: h.payload}
	}
	if err != nil {
		return nil, h.name, h.deviceNumber, err
	}
	return p, h.name, h.deviceNumber, nil
}

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getU16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }
func getU32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }
