// Package wire implements the BitTorrent peer wire protocol: the initial
// handshake, message framing, and the fixed set of core message types.
package wire

import (
	"bytes"
	"fmt"
	"io"
)

// ProtocolString is the fixed pstr field value for the BitTorrent protocol.
const ProtocolString = "BitTorrent protocol"

const pstrlen = byte(len(ProtocolString))

// ReservedLen is the number of reserved bytes in a handshake, used to
// advertise extension support.
const ReservedLen = 8

// ExtendedMessagingBit is the reserved-byte bit (BEP 10) advertising support
// for the extension protocol: bit 20 counting from the right (0-indexed),
// which lives in the 6th reserved byte.
var ExtendedMessagingBit = [ReservedLen]byte{0, 0, 0, 0, 0, 0x10, 0, 0}

// Handshake is the 68-byte peer-wire handshake.
type Handshake struct {
	Reserved [ReservedLen]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// SupportsExtensions reports whether the handshake advertises the BEP 10
// extension protocol.
func (h *Handshake) SupportsExtensions() bool {
	return h.Reserved[5]&0x10 != 0
}

// Encode serializes the handshake to wire bytes.
func (h *Handshake) Encode() []byte {
	buf := make([]byte, 0, 1+len(ProtocolString)+ReservedLen+20+20)
	buf = append(buf, pstrlen)
	buf = append(buf, ProtocolString...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// ProtocolError indicates malformed or unexpected data on the wire,
// grounding for a hard disconnect.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: protocol error: %s", e.Reason)
}

// ReadHandshake reads and validates a handshake from r. It does not compare
// the info hash or peer ID against expected values; callers do that.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lenBuf [1]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	if lenBuf[0] != pstrlen {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unexpected pstrlen %d", lenBuf[0])}
	}

	pstr := make([]byte, lenBuf[0])
	if _, err := io.ReadFull(r, pstr); err != nil {
		return nil, err
	}
	if !bytes.Equal(pstr, []byte(ProtocolString)) {
		return nil, &ProtocolError{Reason: "unrecognized protocol string"}
	}

	var h Handshake
	if _, err := io.ReadFull(r, h.Reserved[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, h.InfoHash[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, h.PeerID[:]); err != nil {
		return nil, err
	}
	return &h, nil
}

// WriteHandshake writes h to w.
func WriteHandshake(w io.Writer, h *Handshake) error {
	_, err := w.Write(h.Encode())
	return err
}
