package wire

import (
	"bytes"
	"net"
	"testing"
)

func mustPeer(t *testing.T, ip string, port uint16) PeerAddr {
	t.Helper()
	parsed := net.ParseIP(ip)
	if parsed == nil {
		t.Fatalf("bad test IP %q", ip)
	}
	return PeerAddr{IP: parsed, Port: port}
}

func TestEncodeDecodeDataRoundTripIPv4(t *testing.T) {
	peer := mustPeer(t, "127.0.0.1", 40000)
	payload := []byte("ping")

	frame, err := EncodeData(TransportUDP, FamilyIPv4, 6000, peer, payload)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}

	if len(frame) != 18 {
		t.Fatalf("expected 18-byte frame, got %d", len(frame))
	}

	h, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.TotalLength != 18 || h.Type != TypeData || h.Port != 6000 || h.Family != FamilyIPv4 || h.Transport != TransportUDP {
		t.Fatalf("unexpected header: %+v", h)
	}

	decodedPeer, rest, err := DecodeBody(h, frame[HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if !decodedPeer.IP.Equal(peer.IP) || decodedPeer.Port != peer.Port {
		t.Fatalf("peer mismatch: got %+v, want %+v", decodedPeer, peer)
	}
	if !bytes.Equal(rest, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", rest, payload)
	}
}

func TestEncodeDecodeDataRoundTripIPv6(t *testing.T) {
	peer := mustPeer(t, "::1", 443)
	payload := []byte("hello over v6")

	frame, err := EncodeData(TransportTCP, FamilyIPv6, 7443, peer, payload)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}

	h, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	decodedPeer, rest, err := DecodeBody(h, frame[HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	if !decodedPeer.IP.Equal(peer.IP) {
		t.Fatalf("peer IP mismatch: got %v, want %v", decodedPeer.IP, peer.IP)
	}
	if !bytes.Equal(rest, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", rest, payload)
	}
}

func TestEncodeDecodeStateRoundTrip(t *testing.T) {
	peer := mustPeer(t, "127.0.0.1", 50000)

	frame, err := EncodeState(TransportTCP, FamilyIPv4, 7000, peer, StateOpen)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}

	h, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if h.Type != TypeState {
		t.Fatalf("expected TypeState, got %d", h.Type)
	}

	_, rest, err := DecodeBody(h, frame[HeaderSize:])
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	state, err := DecodeState(rest)
	if err != nil {
		t.Fatalf("DecodeState: %v", err)
	}
	if state != StateOpen {
		t.Fatalf("expected StateOpen, got %d", state)
	}
}

func TestEncodeDataRejectsOversizeFrame(t *testing.T) {
	peer := mustPeer(t, "127.0.0.1", 1)
	payload := make([]byte, 65530)

	frame, err := EncodeData(TransportTCP, FamilyIPv4, 1, peer, payload)
	if err == nil {
		t.Fatalf("expected error for oversize frame, got frame of length %d", len(frame))
	}
	if frame != nil {
		t.Fatalf("expected no bytes on error, got %d bytes", len(frame))
	}
}

func TestDecodeHeaderAcceptsMaxTotalLength(t *testing.T) {
	frame, err := EncodeState(TransportTCP, FamilyIPv4, 1, mustPeer(t, "127.0.0.1", 1), StateOpen)
	if err != nil {
		t.Fatalf("EncodeState: %v", err)
	}
	// Set total_length to 0xFFFF, the largest value the u16 field can hold;
	// it equals MaxFrameLength, which is a permitted length.
	frame[0] = 0xFF
	frame[1] = 0xFF

	h, err := DecodeHeader(frame[:HeaderSize])
	if err != nil {
		t.Fatalf("expected DecodeHeader to accept total_length %d: %v", MaxFrameLength, err)
	}
	if h.TotalLength != MaxFrameLength {
		t.Fatalf("TotalLength = %d, want %d", h.TotalLength, MaxFrameLength)
	}
}

func TestDecodeBodyRejectsUnknownFamily(t *testing.T) {
	h := Header{TotalLength: 20, Type: TypeData, Port: 1, Family: 99, Transport: TransportTCP}
	if _, _, err := DecodeBody(h, make([]byte, 12)); err == nil {
		t.Fatalf("expected DecodeBody to reject unknown family")
	}
}

func TestFamilyOf(t *testing.T) {
	fam, err := FamilyOf(net.ParseIP("192.168.1.1"))
	if err != nil || fam != FamilyIPv4 {
		t.Fatalf("FamilyOf(v4) = %v, %v", fam, err)
	}
	fam, err = FamilyOf(net.ParseIP("fe80::1"))
	if err != nil || fam != FamilyIPv6 {
		t.Fatalf("FamilyOf(v6) = %v, %v", fam, err)
	}
}
