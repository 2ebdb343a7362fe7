package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	h := &Handshake{Reserved: ExtendedMessagingBit}
	copy(h.InfoHash[:], bytes.Repeat([]byte{0xAB}, 20))
	copy(h.PeerID[:], bytes.Repeat([]byte{0xCD}, 20))

	var buf bytes.Buffer
	require.NoError(t, WriteHandshake(&buf, h))
	require.Equal(t, 68, buf.Len())

	got, err := ReadHandshake(&buf)
	require.NoError(t, err)
	require.Equal(t, h.InfoHash, got.InfoHash)
	require.Equal(t, h.PeerID, got.PeerID)
	require.True(t, got.SupportsExtensions())
}

func TestReadHandshakeRejectsBadProtocol(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(19)
	buf.WriteString("NotBitTorrent proto")
	buf.Write(make([]byte, 48))
	_, err := ReadHandshake(&buf)
	require.Error(t, err)
	require.IsType(t, &ProtocolError{}, err)
}

func TestMessageKeepAlive(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, &Message{KeepAlive: true}))
	m, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.True(t, m.KeepAlive)
}

func TestMessageRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := RequestMessage(BlockRequest{Index: 3, Begin: 16384, Length: 16384})
	require.NoError(t, WriteMessage(&buf, req))

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, Request, got.ID)

	br, err := DecodeBlockRequest(got)
	require.NoError(t, err)
	require.Equal(t, BlockRequest{Index: 3, Begin: 16384, Length: 16384}, br)
}

func TestMessageRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadMessage(&buf)
	require.Error(t, err)
}

func TestHaveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, HaveMessage(42)))
	m, err := ReadMessage(&buf)
	require.NoError(t, err)
	idx, err := DecodeHave(m)
	require.NoError(t, err)
	require.EqualValues(t, 42, idx)
}

func TestPieceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("some block data")
	require.NoError(t, WriteMessage(&buf, PieceMessage(PieceBlock{Index: 1, Begin: 0, Data: data})))
	m, err := ReadMessage(&buf)
	require.NoError(t, err)
	block, err := DecodePieceBlock(m)
	require.NoError(t, err)
	require.Equal(t, data, block.Data)
}

func TestExtendedHandshakeRoundTrip(t *testing.T) {
	h := &ExtendedHandshake{M: map[string]int{"ut_pex": ExtPEX, "ut_metadata": ExtMetadata}, V: "swarmd 1.0"}
	parsed, err := DecodeExtendedHandshake(h.Encode())
	require.NoError(t, err)
	require.Equal(t, ExtPEX, parsed.M["ut_pex"])
	require.Equal(t, "swarmd 1.0", parsed.V)
}

func TestExtendedMessageWrap(t *testing.T) {
	em := &ExtendedMessage{ExtendedID: ExtPEX, Payload: []byte("payload")}
	m := em.Encode()
	require.Equal(t, Extended, m.ID)

	got, err := DecodeExtendedMessage(m)
	require.NoError(t, err)
	require.Equal(t, byte(ExtPEX), got.ExtendedID)
	require.Equal(t, []byte("payload"), got.Payload)
}

func TestPEXMessageRoundTrip(t *testing.T) {
	p := &PEXMessage{
		Added:   []net.TCPAddr{{IP: net.ParseIP("192.168.1.1"), Port: 6881}},
		Dropped: []net.TCPAddr{{IP: net.ParseIP("10.0.0.1"), Port: 51413}},
	}
	got, err := DecodePEXMessage(p.Encode())
	require.NoError(t, err)
	require.Len(t, got.Added, 1)
	require.Equal(t, 6881, got.Added[0].Port)
	require.Len(t, got.Dropped, 1)
}
