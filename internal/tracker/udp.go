package tracker

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/dstore-labs/swarmd/core"
)

const (
	udpProtocolMagic  uint64 = 0x41727101980
	udpActionConnect  uint32 = 0
	udpActionAnnounce uint32 = 1
	udpActionScrape   uint32 = 2
	udpActionError    uint32 = 3

	udpBaseTimeout = 15 * time.Second
	udpMaxRetries  = 8
)

// UDPClient announces to a single UDP tracker per BEP 15.
type UDPClient struct {
	Addr string
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewUDPClient constructs a UDPClient for the given "host:port" address.
func NewUDPClient(addr string) *UDPClient {
	return &UDPClient{
		Addr: addr,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "udp", addr)
		},
	}
}

// Announce performs the BEP 15 connect+announce handshake.
func (c *UDPClient) Announce(ctx context.Context, req AnnounceRequest) (*AnnounceResponse, error) {
	conn, err := c.dial(ctx, c.Addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	connID, err := udpConnect(ctx, conn)
	if err != nil {
		return nil, err
	}
	return udpAnnounce(ctx, conn, connID, req)
}

func udpConnect(ctx context.Context, conn net.Conn) (uint64, error) {
	txID := rand.Uint32()
	req := make([]byte, 16)
	binary.BigEndian.PutUint64(req[0:8], udpProtocolMagic)
	binary.BigEndian.PutUint32(req[8:12], udpActionConnect)
	binary.BigEndian.PutUint32(req[12:16], txID)

	resp, err := udpRoundTrip(ctx, conn, req, 16)
	if err != nil {
		return 0, err
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return 0, fmt.Errorf("tracker: udp transaction id mismatch")
	}
	if action == udpActionError {
		return 0, &FailureError{Reason: string(resp[8:])}
	}
	if action != udpActionConnect {
		return 0, fmt.Errorf("tracker: unexpected udp action %d", action)
	}
	return binary.BigEndian.Uint64(resp[8:16]), nil
}

func udpAnnounce(ctx context.Context, conn net.Conn, connID uint64, req AnnounceRequest) (*AnnounceResponse, error) {
	txID := rand.Uint32()
	buf := make([]byte, 98)
	binary.BigEndian.PutUint64(buf[0:8], connID)
	binary.BigEndian.PutUint32(buf[8:12], udpActionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], txID)
	copy(buf[16:36], req.InfoHash.Bytes())
	copy(buf[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(buf[56:64], uint64(req.Downloaded))
	binary.BigEndian.PutUint64(buf[64:72], uint64(req.Left))
	binary.BigEndian.PutUint64(buf[72:80], uint64(req.Uploaded))
	binary.BigEndian.PutUint32(buf[80:84], udpEventCode(req.Event))
	binary.BigEndian.PutUint32(buf[84:88], 0) // IP, 0 = default
	binary.BigEndian.PutUint32(buf[88:92], rand.Uint32())
	numWant := int32(-1)
	if req.NumWant > 0 {
		numWant = int32(req.NumWant)
	}
	binary.BigEndian.PutUint32(buf[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(buf[96:98], uint16(req.Port))

	resp, err := udpRoundTrip(ctx, conn, buf, 20)
	if err != nil {
		return nil, err
	}
	action := binary.BigEndian.Uint32(resp[0:4])
	gotTxID := binary.BigEndian.Uint32(resp[4:8])
	if gotTxID != txID {
		return nil, fmt.Errorf("tracker: udp transaction id mismatch")
	}
	if action == udpActionError {
		return nil, &FailureError{Reason: string(resp[8:])}
	}
	if action != udpActionAnnounce {
		return nil, fmt.Errorf("tracker: unexpected udp action %d", action)
	}

	out := &AnnounceResponse{
		Interval:   time.Duration(binary.BigEndian.Uint32(resp[8:12])) * time.Second,
		Incomplete: int(binary.BigEndian.Uint32(resp[12:16])),
		Complete:   int(binary.BigEndian.Uint32(resp[16:20])),
	}
	peerData := resp[20:]
	for i := 0; i+6 <= len(peerData); i += 6 {
		ip := net.IPv4(peerData[i], peerData[i+1], peerData[i+2], peerData[i+3])
		port := binary.BigEndian.Uint16(peerData[i+4 : i+6])
		out.Peers = append(out.Peers, PeerInfo{IP: ip, Port: int(port)})
	}
	return out, nil
}

func udpEventCode(e Event) uint32 {
	switch e {
	case EventCompleted:
		return 1
	case EventStarted:
		return 2
	case EventStopped:
		return 3
	default:
		return 0
	}
}

// udpRoundTrip sends req and reads a response of at least minRespLen bytes,
// retrying with exponential backoff (15s, 30s, 60s, ...) per BEP 15, up to
// udpMaxRetries attempts.
func udpRoundTrip(ctx context.Context, conn net.Conn, req []byte, minRespLen int) ([]byte, error) {
	timeout := udpBaseTimeout
	var lastErr error
	for attempt := 0; attempt < udpMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := conn.Write(req); err != nil {
			return nil, err
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		buf := make([]byte, 4096)
		n, err := conn.Read(buf)
		if err != nil {
			lastErr = err
			timeout *= 2
			continue
		}
		if n < minRespLen {
			lastErr = fmt.Errorf("tracker: udp response too short: %d bytes", n)
			timeout *= 2
			continue
		}
		return buf[:n], nil
	}
	return nil, fmt.Errorf("tracker: udp announce exhausted retries: %w", lastErr)
}
