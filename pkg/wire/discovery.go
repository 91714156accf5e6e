package wire

import "github.com/pkg/errors"

// IDRequest is sent broadcast on 50000 during startup self-assignment.
// DeviceNumber 0 means "not yet assigned".
type IDRequest struct {
	Requested byte
}

func (p IDRequest) Type() byte { return TypeIDRequest }

func (p IDRequest) Encode(deviceNumber byte, name string) []byte {
	return buildHeader(TypeIDRequest, p.Requested, name, nil)
}

func decodeIDRequest(h header) (Packet, error) {
	return IDRequest{Requested: h.deviceNumber}, nil
}

// IDResponse asserts a device number unicast on 50000.
type IDResponse struct {
	DeviceNumber byte
	MAC          [6]byte
}

func (p IDResponse) Type() byte { return TypeIDResponseOrFader }

func (p IDResponse) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 6)
	copy(payload, p.MAC[:])
	return buildHeader(TypeIDResponseOrFader, deviceNumber, name, payload)
}

func decodeIDResponse(h header) (Packet, error) {
	if len(h.payload) < 6 {
		return nil, errors.WithMessage(ErrTruncated, "id response")
	}
	var mac [6]byte
	copy(mac[:], h.payload[:6])
	return IDResponse{DeviceNumber: h.deviceNumber, MAC: mac}, nil
}

// Keepalive asserts presence, device kind, MAC, and IP broadcast on 50000
// every 1500ms.
type Keepalive struct {
	DeviceNumber byte
	Kind         DeviceKind
	MAC          [6]byte
	IP           [4]byte
}

func (p Keepalive) Type() byte { return TypeKeepaliveOrStatus }

func (p Keepalive) Encode(deviceNumber byte, name string) []byte {
	payload := make([]byte, 11)
	payload[0] = byte(p.Kind)
	copy(payload[1:7], p.MAC[:])
	copy(payload[7:11], p.IP[:])
	return buildHeader(TypeKeepaliveOrStatus, deviceNumber, name, payload)
}

func decodeKeepalive(h header) (Packet, error) {
	if len(h.payload) < 11 {
		return nil, errors.WithMessage(ErrTruncated, "keepalive")
	}
	k := Keepalive{DeviceNumber: h.deviceNumber, Kind: DeviceKind(h.payload[0])}
	copy(k.MAC[:], h.payload[1:7])
	copy(k.IP[:], h.payload[7:11])
	return k, nil
}
