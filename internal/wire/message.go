package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageID identifies the type of a peer-wire message.
type MessageID byte

// Core message ids.
const (
	Choke         MessageID = 0
	Unchoke       MessageID = 1
	Interested    MessageID = 2
	NotInterested MessageID = 3
	Have          MessageID = 4
	Bitfield      MessageID = 5
	Request       MessageID = 6
	Piece         MessageID = 7
	Cancel        MessageID = 8
	Extended      MessageID = 20
)

// MaxMessageLength bounds the accepted <len> prefix to guard against a
// malicious peer claiming an absurd payload size.
const MaxMessageLength = 16*1024 + 64

// Message is a single framed peer-wire message. A keep-alive is represented
// by KeepAlive=true with all other fields zero.
type Message struct {
	KeepAlive bool
	ID        MessageID
	Payload   []byte
}

// Keep-alives have no id byte.
func (m *Message) hasID() bool { return !m.KeepAlive }

// Encode serializes m to wire bytes: <length prefix><message ID><payload>.
func (m *Message) Encode() []byte {
	if m.KeepAlive {
		return []byte{0, 0, 0, 0}
	}
	length := uint32(1 + len(m.Payload))
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(m.ID)
	copy(buf[5:], m.Payload)
	return buf
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length == 0 {
		return &Message{KeepAlive: true}, nil
	}
	if length > MaxMessageLength {
		return nil, &ProtocolError{Reason: fmt.Sprintf("message length %d exceeds maximum", length)}
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// WriteMessage writes m to w.
func WriteMessage(w io.Writer, m *Message) error {
	_, err := w.Write(m.Encode())
	return err
}

// HaveMessage builds a Have message for piece index i.
func HaveMessage(i uint32) *Message {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, i)
	return &Message{ID: Have, Payload: payload}
}

// DecodeHave parses the payload of a Have message.
func DecodeHave(m *Message) (uint32, error) {
	if len(m.Payload) != 4 {
		return 0, &ProtocolError{Reason: "malformed have payload"}
	}
	return binary.BigEndian.Uint32(m.Payload), nil
}

// BitfieldMessage builds a Bitfield message from raw wire-format bytes.
func BitfieldMessage(bits []byte) *Message {
	return &Message{ID: Bitfield, Payload: bits}
}

// BlockRequest is the payload shape shared by Request, Piece, and Cancel
// messages: a piece index, a byte offset within the piece, and a length
// (Piece messages reuse Length's position for trailing block data instead).
type BlockRequest struct {
	Index  uint32
	Begin  uint32
	Length uint32
}

// RequestMessage builds a Request message.
func RequestMessage(r BlockRequest) *Message {
	return &Message{ID: Request, Payload: encodeBlockRequest(r)}
}

// CancelMessage builds a Cancel message.
func CancelMessage(r BlockRequest) *Message {
	return &Message{ID: Cancel, Payload: encodeBlockRequest(r)}
}

func encodeBlockRequest(r BlockRequest) []byte {
	payload := make([]byte, 12)
	binary.BigEndian.PutUint32(payload[0:4], r.Index)
	binary.BigEndian.PutUint32(payload[4:8], r.Begin)
	binary.BigEndian.PutUint32(payload[8:12], r.Length)
	return payload
}

// DecodeBlockRequest parses the payload of a Request or Cancel message.
func DecodeBlockRequest(m *Message) (BlockRequest, error) {
	if len(m.Payload) != 12 {
		return BlockRequest{}, &ProtocolError{Reason: "malformed request payload"}
	}
	return BlockRequest{
		Index:  binary.BigEndian.Uint32(m.Payload[0:4]),
		Begin:  binary.BigEndian.Uint32(m.Payload[4:8]),
		Length: binary.BigEndian.Uint32(m.Payload[8:12]),
	}, nil
}

// PieceBlock is the decoded payload of a Piece message.
type PieceBlock struct {
	Index uint32
	Begin uint32
	Data  []byte
}

// PieceMessage builds a Piece message carrying block data.
func PieceMessage(b PieceBlock) *Message {
	payload := make([]byte, 8+len(b.Data))
	binary.BigEndian.PutUint32(payload[0:4], b.Index)
	binary.BigEndian.PutUint32(payload[4:8], b.Begin)
	copy(payload[8:], b.Data)
	return &Message{ID: Piece, Payload: payload}
}

// DecodePieceBlock parses the payload of a Piece message.
func DecodePieceBlock(m *Message) (PieceBlock, error) {
	if len(m.Payload) < 8 {
		return PieceBlock{}, &ProtocolError{Reason: "malformed piece payload"}
	}
	return PieceBlock{
		Index: binary.BigEndian.Uint32(m.Payload[0:4]),
		Begin: binary.BigEndian.Uint32(m.Payload[4:8]),
		Data:  m.Payload[8:],
	}, nil
}
