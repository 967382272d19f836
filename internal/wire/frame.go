// The MIT License (MIT)
//
// # Copyright (c) 2024 loopwire authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package wire implements the binary envelope used on the upstream tunnel
// connection: an 8-byte fixed header followed by a peer address prefix and
// a type-dependent body. All integers are big-endian. See the header table
// in the project's wire protocol documentation for the exact byte layout.
package wire

import (
	"encoding/binary"
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// Address family wire constants. Stable across platforms; translated to and
// from the host's syscall constants only at the JSON bind-config boundary
// (see platform.go).
const (
	FamilyIPv4 uint8 = 2
	FamilyIPv6 uint8 = 10
)

// Transport wire constants.
const (
	TransportTCP uint8 = 1
	TransportUDP uint8 = 2
)

// Frame type field values.
const (
	TypeState uint16 = 0
	TypeData  uint16 = 1
)

// State codes carried in a STATE frame body.
const (
	StateOpen  uint16 = 0
	StateClose uint16 = 1
)

const (
	sizeOfTotalLength = 2
	sizeOfType        = 2
	sizeOfPort        = 2
	sizeOfFamily      = 1
	sizeOfTransport   = 1
	// HeaderSize is the fixed size, in bytes, of every frame header.
	HeaderSize = sizeOfTotalLength + sizeOfType + sizeOfPort + sizeOfFamily + sizeOfTransport

	peerSizeIPv4 = 4 + 2
	peerSizeIPv6 = 16 + 2

	stateBodySize = 2

	// MaxFrameLength is the largest value total_length may take.
	MaxFrameLength = 65535
)

// Header is the fixed 8-byte prefix of every frame.
type Header struct {
	TotalLength uint16
	Type        uint16
	Port        uint16
	Family      uint8
	Transport   uint8
}

// PeerAddr identifies the local peer a frame's payload belongs to.
type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// peerSize returns the on-wire byte size of a peer address for the given
// family: 6 bytes (4 IP + 2 port) for IPv4, 18 bytes (16 IP + 2 port) for
// IPv6.
func peerSize(family uint8) (int, error) {
	switch family {
	case FamilyIPv4:
		return peerSizeIPv4, nil
	case FamilyIPv6:
		return peerSizeIPv6, nil
	default:
		return 0, errors.Errorf("wire: unknown address family %d", family)
	}
}

// FamilyOf reports the wire address family for an IP, or an error if it is
// neither a 4-byte nor a 16-byte address.
func FamilyOf(ip net.IP) (uint8, error) {
	if v4 := ip.To4(); v4 != nil {
		return FamilyIPv4, nil
	}
	if ip.To16() != nil {
		return FamilyIPv6, nil
	}
	return 0, errors.Errorf("wire: address %v is neither IPv4 nor IPv6", ip)
}

func encodeHeader(dst []byte, totalLength int, typ uint16, port uint16, family, transport uint8) {
	binary.BigEndian.PutUint16(dst[0:2], uint16(totalLength))
	binary.BigEndian.PutUint16(dst[2:4], typ)
	binary.BigEndian.PutUint16(dst[4:6], port)
	dst[6] = family
	dst[7] = transport
}

func encodePeer(dst []byte, family uint8, peer PeerAddr) error {
	switch family {
	case FamilyIPv4:
		v4 := peer.IP.To4()
		if v4 == nil {
			return errors.Errorf("wire: peer %v is not an IPv4 address", peer.IP)
		}
		copy(dst[0:4], v4)
		binary.BigEndian.PutUint16(dst[4:6], peer.Port)
	case FamilyIPv6:
		v6 := peer.IP.To16()
		if v6 == nil {
			return errors.Errorf("wire: peer %v is not an IPv6 address", peer.IP)
		}
		copy(dst[0:16], v6)
		binary.BigEndian.PutUint16(dst[16:18], peer.Port)
	default:
		return errors.Errorf("wire: unknown address family %d", family)
	}
	return nil
}

// EncodeData builds a DATA frame. It fails if the resulting frame would
// exceed MaxFrameLength.
func EncodeData(transport, family uint8, port uint16, peer PeerAddr, payload []byte) ([]byte, error) {
	psz, err := peerSize(family)
	if err != nil {
		return nil, err
	}
	total := HeaderSize + psz + len(payload)
	if total > MaxFrameLength {
		return nil, errors.Errorf("wire: DATA frame too large: %d bytes exceeds %d", total, MaxFrameLength)
	}

	buf := make([]byte, total)
	encodeHeader(buf, total, TypeData, port, family, transport)
	if err := encodePeer(buf[HeaderSize:], family, peer); err != nil {
		return nil, err
	}
	copy(buf[HeaderSize+psz:], payload)
	return buf, nil
}

// EncodeState builds a STATE frame carrying StateOpen or StateClose.
func EncodeState(transport, family uint8, port uint16, peer PeerAddr, state uint16) ([]byte, error) {
	psz, err := peerSize(family)
	if err != nil {
		return nil, err
	}
	total := HeaderSize + psz + stateBodySize
	if total > MaxFrameLength {
		return nil, errors.Errorf("wire: STATE frame too large: %d bytes exceeds %d", total, MaxFrameLength)
	}

	buf := make([]byte, total)
	encodeHeader(buf, total, TypeState, port, family, transport)
	if err := encodePeer(buf[HeaderSize:], family, peer); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint16(buf[HeaderSize+psz:], state)
	return buf, nil
}

// DecodeHeader parses exactly HeaderSize bytes. It never blocks and fails
// only on a malformed length slice; unknown address families and transports
// are returned in the Header as-is for the caller to reject, since only the
// caller knows whether CLOSED-state rejection or a log-and-continue policy
// applies at this point in the session.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, errors.Errorf("wire: header must be exactly %d bytes, got %d", HeaderSize, len(b))
	}
	h := Header{
		TotalLength: binary.BigEndian.Uint16(b[0:2]),
		Type:        binary.BigEndian.Uint16(b[2:4]),
		Port:        binary.BigEndian.Uint16(b[4:6]),
		Family:      b[6],
		Transport:   b[7],
	}
	if h.TotalLength > MaxFrameLength {
		return Header{}, errors.Errorf("wire: total_length %d exceeds %d", h.TotalLength, MaxFrameLength)
	}
	return h, nil
}

// DecodeBody parses the peer address prefix out of a frame body using the
// header's address family. rest is the remainder: payload bytes for DATA,
// a two-byte state code for STATE.
func DecodeBody(h Header, body []byte) (PeerAddr, []byte, error) {
	psz, err := peerSize(h.Family)
	if err != nil {
		return PeerAddr{}, nil, err
	}
	if len(body) < psz {
		return PeerAddr{}, nil, errors.Errorf("wire: body too short for family %d: got %d bytes, need at least %d", h.Family, len(body), psz)
	}

	var peer PeerAddr
	switch h.Family {
	case FamilyIPv4:
		peer.IP = net.IP(append([]byte(nil), body[0:4]...))
		peer.Port = binary.BigEndian.Uint16(body[4:6])
	case FamilyIPv6:
		peer.IP = net.IP(append([]byte(nil), body[0:16]...))
		peer.Port = binary.BigEndian.Uint16(body[16:18])
	}
	return peer, body[psz:], nil
}

// DecodeState parses a two-byte state code out of a STATE frame's rest
// bytes (as returned by DecodeBody).
func DecodeState(rest []byte) (uint16, error) {
	if len(rest) != stateBodySize {
		return 0, errors.Errorf("wire: STATE body must be exactly %d bytes, got %d", stateBodySize, len(rest))
	}
	return binary.BigEndian.Uint16(rest), nil
}

// TunnelID uniquely identifies a local listener, and appears on the wire so
// the peer can route frames to it.
type TunnelID struct {
	Family    uint8
	Transport uint8
	Port      uint16
}
