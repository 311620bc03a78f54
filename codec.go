package ringlink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// MaxBodySize is the hard cap on a control message body.
// A receiver that reads a header claiming a larger size must drop the
// connection without attempting to read the body.
const MaxBodySize = 2 * 1024 * 1024

// HeaderSize is the length of the fixed little-endian envelope header:
// [type:u32][bodySize:u32].
const HeaderSize = 8

// Envelope is the in-memory form of one control message: a type tag plus
// an opaque body. The body is produced/consumed by the per-type request
// structs in protocol.go via encoding/json.
type Envelope struct {
	Type PacketType
	Body []byte
}

// EncodeEnvelope renders an Envelope as the little-endian
// [type][bodySize]body frame that ControlTransport writes to the wire.
func EncodeEnvelope(e Envelope) ([]byte, error) {
	if len(e.Body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	frame := make([]byte, HeaderSize+len(e.Body))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(e.Type))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(e.Body)))
	copy(frame[HeaderSize:], e.Body)
	return frame, nil
}

// DecodeHeader parses the fixed 8-byte header preceding every body.
func DecodeHeader(header []byte) (typ PacketType, bodySize uint32, err error) {
	if len(header) != HeaderSize {
		err = fmt.Errorf("ringlink: short header (%d bytes)", len(header))
		return
	}
	typ = PacketType(binary.LittleEndian.Uint32(header[0:4]))
	bodySize = binary.LittleEndian.Uint32(header[4:8])
	if bodySize > MaxBodySize {
		err = ErrBodyTooLarge
	}
	return
}

// MarshalBody encodes a typed request/response struct to the JSON body
// document used across all control packet types.
func MarshalBody(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalBody decodes a JSON body document into the given typed struct.
func UnmarshalBody(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}

// NewEnvelope is a convenience constructor that marshals v and wraps it
// with the given type tag.
func NewEnvelope(typ PacketType, v interface{}) (Envelope, error) {
	body, err := MarshalBody(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Body: body}, nil
}
