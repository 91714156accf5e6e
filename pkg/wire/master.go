package wire

import "github.com/pkg/errors"

// MasterClaim is one stage of the master-handoff broadcast dance (spec
// §4.4). Stage counts down 3, 2, 1.
type MasterClaim struct {
	DeviceNumber byte
	Stage        byte
}

func (p MasterClaim) Type() byte { return TypeMasterClaim }

func (p MasterClaim) Encode(deviceNumber byte, name string) []byte {
	return buildHeader(TypeMasterClaim, deviceNumber, name, []byte{p.Stage})
}

func decodeMasterClaim(h header) (Packet, error) {
	if len(h.payload) < 1 {
		return nil, errors.WithMessage(ErrTruncated, "master claim")
	}
	return MasterClaim{DeviceNumber: h.deviceNumber, Stage: h.payload[0]}, nil
}

// MasterYieldRequest asks the current master to yield. Unicast on 50002.
type MasterYieldRequest struct {
	DeviceNumber byte // the requester
	TargetDevice byte // the current master being asked to yield
}

func (p MasterYieldRequest) Type() byte { return TypeMasterYieldRequest }

func (p MasterYieldRequest) Encode(deviceNumber byte, name string) []byte {
	return buildHeader(TypeMasterYieldRequest, deviceNumber, name, []byte{p.TargetDevice})
}

func decodeMasterYieldRequest(h header) (Packet, error) {
	if len(h.payload) < 1 {
		return nil, errors.WithMessage(ErrTruncated, "master yield request")
	}
	return MasterYieldRequest{DeviceNumber: h.deviceNumber, TargetDevice: h.payload[0]}, nil
}

// MasterYieldResponse ACKs a yield request. Unicast on 50002.
type MasterYieldResponse struct {
	DeviceNumber byte // the yielding device (previously master)
	Ack          bool
}

func (p MasterYieldResponse) Type() byte { return TypeMasterYieldResponse }

func (p MasterYieldResponse) Encode(deviceNumber byte, name string) []byte {
	var ack byte
	if p.Ack {
		ack = 1
	}
	return buildHeader(TypeMasterYieldResponse, deviceNumber, name, []byte{ack})
}

func decodeMasterYieldResponse(h header) (Packet, error) {
	if len(h.payload) < 1 {
		return nil, errors.WithMessage(ErrTruncated, "master yield response")
	}
	return MasterYieldResponse{DeviceNumber: h.deviceNumber, Ack: h.payload[0] != 0}, nil
}
