package wire

import (
	"encoding/binary"
	"net"

	"github.com/dstore-labs/swarmd/internal/bencode"
)

// Extension message ids, negotiated per-connection via the BEP 10
// handshake's "m" dictionary.
const (
	ExtPEX      = 1
	ExtMetadata = 2
)

// ExtendedHandshake is the payload of the BEP 10 extended handshake message
// (extended message id 0).
type ExtendedHandshake struct {
	M           map[string]int
	V           string
	MetadataSize int
}

// Encode serializes the extended handshake as a bencoded dict.
func (h *ExtendedHandshake) Encode() []byte {
	d := bencode.NewDict()
	m := bencode.NewDict()
	for name, id := range h.M {
		m.Set(name, bencode.Int(int64(id)))
	}
	d.Set("m", bencode.DictValue(m))
	if h.V != "" {
		d.Set("v", bencode.String(h.V))
	}
	if h.MetadataSize > 0 {
		d.Set("metadata_size", bencode.Int(int64(h.MetadataSize)))
	}
	return bencode.Marshal(bencode.DictValue(d))
}

// DecodeExtendedHandshake parses the bencoded payload of an extended
// handshake message.
func DecodeExtendedHandshake(payload []byte) (*ExtendedHandshake, error) {
	v, err := bencode.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	if v.Kind() != bencode.KindDict {
		return nil, &ProtocolError{Reason: "extended handshake is not a dict"}
	}
	d := v.Dict()
	h := &ExtendedHandshake{M: make(map[string]int)}
	if mv, ok := d.Get("m"); ok && mv.Kind() == bencode.KindDict {
		for _, k := range mv.Dict().Keys() {
			idv, _ := mv.Dict().Get(k)
			h.M[k] = int(idv.Int64())
		}
	}
	if vv, ok := d.Get("v"); ok {
		h.V = vv.Str()
	}
	if sv, ok := d.Get("metadata_size"); ok {
		h.MetadataSize = int(sv.Int64())
	}
	return h, nil
}

// ExtendedMessage wraps an extension-protocol message: the standard Message
// framing with ID=Extended carries a leading extended-message-id byte
// followed by a bencoded (or, for ut_metadata piece payloads, partially
// bencoded) body.
type ExtendedMessage struct {
	ExtendedID byte
	Payload    []byte
}

// Encode builds the core Message carrying this extended message.
func (e *ExtendedMessage) Encode() *Message {
	payload := make([]byte, 1+len(e.Payload))
	payload[0] = e.ExtendedID
	copy(payload[1:], e.Payload)
	return &Message{ID: Extended, Payload: payload}
}

// DecodeExtendedMessage unwraps the extended-message-id byte from an
// Extended core message's payload.
func DecodeExtendedMessage(m *Message) (*ExtendedMessage, error) {
	if m.ID != Extended || len(m.Payload) < 1 {
		return nil, &ProtocolError{Reason: "not an extended message"}
	}
	return &ExtendedMessage{ExtendedID: m.Payload[0], Payload: m.Payload[1:]}, nil
}

// MaxPEXPeers bounds the number of peers advertised in a single PEX message,
// per the de-facto BEP 11 convention.
const MaxPEXPeers = 50

// PEXMessage is the decoded payload of a ut_pex message: peers added and
// dropped since the last exchange, each with an optional per-peer flags byte
// describing its advertised capabilities (encryption, seed status, etc.).
type PEXMessage struct {
	Added     []net.TCPAddr
	AddedFlags []byte
	Dropped   []net.TCPAddr
}

// Encode serializes a PEXMessage's IPv4 peers as a bencoded ut_pex dict. The
// caller is responsible for keeping Added within MaxPEXPeers.
func (p *PEXMessage) Encode() []byte {
	d := bencode.NewDict()
	d.Set("added", bencode.Bytes(compactPeers(p.Added)))
	if len(p.AddedFlags) > 0 {
		d.Set("added.f", bencode.Bytes(p.AddedFlags))
	}
	d.Set("dropped", bencode.Bytes(compactPeers(p.Dropped)))
	return bencode.Marshal(bencode.DictValue(d))
}

// DecodePEXMessage parses a bencoded ut_pex payload.
func DecodePEXMessage(payload []byte) (*PEXMessage, error) {
	v, err := bencode.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	if v.Kind() != bencode.KindDict {
		return nil, &ProtocolError{Reason: "ut_pex payload is not a dict"}
	}
	d := v.Dict()
	p := &PEXMessage{}
	if av, ok := d.Get("added"); ok {
		p.Added = decompactPeers(av.Bytes())
	}
	if fv, ok := d.Get("added.f"); ok {
		p.AddedFlags = fv.Bytes()
	}
	if dv, ok := d.Get("dropped"); ok {
		p.Dropped = decompactPeers(dv.Bytes())
	}
	return p, nil
}

func compactPeers(addrs []net.TCPAddr) []byte {
	buf := make([]byte, 0, len(addrs)*6)
	for _, a := range addrs {
		ip4 := a.IP.To4()
		if ip4 == nil {
			continue
		}
		buf = append(buf, ip4...)
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], uint16(a.Port))
		buf = append(buf, port[:]...)
	}
	return buf
}

func decompactPeers(b []byte) []net.TCPAddr {
	var addrs []net.TCPAddr
	for i := 0; i+6 <= len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3])
		port := binary.BigEndian.Uint16(b[i+4 : i+6])
		addrs = append(addrs, net.TCPAddr{IP: ip, Port: int(port)})
	}
	return addrs
}
