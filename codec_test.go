package ringlink

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func TestEncodeEnvelopeDecodeHeaderRoundTrip(t *testing.T) {
	body := []byte(`{"nickname_hash":"deadbeef"}`)
	frame, err := EncodeEnvelope(Envelope{Type: PacketAuthorization, Body: body})
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	if len(frame) != HeaderSize+len(body) {
		t.Fatalf("frame length = %d, want %d", len(frame), HeaderSize+len(body))
	}

	typ, size, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if typ != PacketAuthorization {
		t.Fatalf("decoded type = %v, want %v", typ, PacketAuthorization)
	}
	if int(size) != len(body) {
		t.Fatalf("decoded bodySize = %d, want %d", size, len(body))
	}
	if !bytes.Equal(frame[HeaderSize:], body) {
		t.Fatal("frame body does not match the original")
	}
}

func TestEncodeEnvelopeRejectsOversizedBody(t *testing.T) {
	_, err := EncodeEnvelope(Envelope{Type: PacketAuthorization, Body: make([]byte, MaxBodySize+1)})
	if err != ErrBodyTooLarge {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestDecodeHeaderRejectsWrongLength(t *testing.T) {
	if _, _, err := DecodeHeader([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a short header")
	}
	if _, _, err := DecodeHeader(make([]byte, HeaderSize+1)); err == nil {
		t.Fatal("expected an error for an over-long header")
	}
}

func TestDecodeHeaderRejectsOversizedBodySize(t *testing.T) {
	header := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(PacketAuthorization))
	binary.LittleEndian.PutUint32(header[4:8], uint32(MaxBodySize+1))
	if _, _, err := DecodeHeader(header); err != ErrBodyTooLarge {
		t.Fatalf("err = %v, want ErrBodyTooLarge", err)
	}
}

func TestMarshalUnmarshalBodyRoundTrip(t *testing.T) {
	want := AuthorizationRequest{UID: "uid-1", NicknameHash: "deadbeef", PublicKey: "pk", UDPPort: 4242, ProtocolVersion: "1.0.0"}
	body, err := MarshalBody(want)
	if err != nil {
		t.Fatalf("MarshalBody: %v", err)
	}
	var got AuthorizationRequest
	if err := UnmarshalBody(body, &got); err != nil {
		t.Fatalf("UnmarshalBody: %v", err)
	}
	if got != want {
		t.Fatalf("UnmarshalBody = %+v, want %+v", got, want)
	}
}

func TestUnmarshalBodyRejectsGarbage(t *testing.T) {
	var out AuthorizationRequest
	if err := UnmarshalBody([]byte("not json"), &out); err == nil {
		t.Fatal("expected an error decoding non-JSON body")
	}
}

func TestNewEnvelopeMarshalsAndTags(t *testing.T) {
	env, err := NewEnvelope(PacketLogout, struct{}{})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if env.Type != PacketLogout {
		t.Fatalf("env.Type = %v, want PacketLogout", env.Type)
	}
	if !strings.Contains(string(env.Body), "{") {
		t.Fatalf("env.Body = %q, want a JSON object", env.Body)
	}
}
