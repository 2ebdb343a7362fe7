package core

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dstore-labs/swarmd/internal/bencode"
)

func TestInfoHashHex(t *testing.T) {
	h, err := NewInfoHashFromHex("0123456789abcdef0123456789abcdef01234567")
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef01234567", h.Hex())
}

func TestInfoHashRejectsBadLength(t *testing.T) {
	_, err := NewInfoHashFromHex("abcd")
	require.Error(t, err)
}

func TestRandomPeerIDHasClientPrefix(t *testing.T) {
	p, err := RandomPeerID()
	require.NoError(t, err)
	require.True(t, len(p.String()) == 40)
	require.Equal(t, ClientIDPrefix, string(p[:8]))
}

func TestClientNameDecoding(t *testing.T) {
	var p PeerID
	copy(p[:], "-UT3550-xxxxxxxxxxxx")
	name, version := ClientName(p)
	require.Equal(t, "uTorrent", name)
	require.Equal(t, "3.5.5.0", version)
}

func TestHashedPeerIDDeterministic(t *testing.T) {
	p1, err := HashedPeerID("1.2.3.4:6881")
	require.NoError(t, err)
	p2, err := HashedPeerID("1.2.3.4:6881")
	require.NoError(t, err)
	require.Equal(t, p1, p2)
}

func buildSingleFileTorrent(t *testing.T, data []byte, pieceLength int64) []byte {
	t.Helper()
	var pieces []byte
	for i := 0; i < len(data); i += int(pieceLength) {
		end := i + int(pieceLength)
		if end > len(data) {
			end = len(data)
		}
		h := sha1.Sum(data[i:end])
		pieces = append(pieces, h[:]...)
	}
	info := bencode.NewDict()
	info.Set("name", bencode.String("file.bin"))
	info.Set("piece length", bencode.Int(pieceLength))
	info.Set("pieces", bencode.Bytes(pieces))
	info.Set("length", bencode.Int(int64(len(data))))

	top := bencode.NewDict()
	top.Set("announce", bencode.String("http://tracker.example/announce"))
	top.Set("info", bencode.DictValue(info))
	return bencode.Marshal(bencode.DictValue(top))
}

func TestParseMetaInfoSingleFile(t *testing.T) {
	data := make([]byte, 5000)
	raw := buildSingleFileTorrent(t, data, 1024)

	mi, err := ParseMetaInfo(raw)
	require.NoError(t, err)
	require.Equal(t, "file.bin", mi.Info.Name)
	require.Equal(t, int64(5000), mi.Info.Length)
	require.Equal(t, "http://tracker.example/announce", mi.Announce)
	require.False(t, mi.Info.IsMultiFile())
	require.Equal(t, 5, mi.NumPieces())
	require.EqualValues(t, 1024, mi.PieceLengthAt(0))
	require.EqualValues(t, 5000-4*1024, mi.PieceLengthAt(4))
}

func TestParseMetaInfoMultiFile(t *testing.T) {
	files := bencode.List(
		func() *bencode.Value {
			d := bencode.NewDict()
			d.Set("length", bencode.Int(100))
			d.Set("path", bencode.List(bencode.String("a"), bencode.String("b.txt")))
			return bencode.DictValue(d)
		}(),
	)
	info := bencode.NewDict()
	info.Set("name", bencode.String("multi"))
	info.Set("piece length", bencode.Int(1024))
	h := sha1.Sum(make([]byte, 100))
	info.Set("pieces", bencode.Bytes(h[:]))
	info.Set("files", files)

	top := bencode.NewDict()
	top.Set("info", bencode.DictValue(info))
	raw := bencode.Marshal(bencode.DictValue(top))

	mi, err := ParseMetaInfo(raw)
	require.NoError(t, err)
	require.True(t, mi.Info.IsMultiFile())
	require.Len(t, mi.Info.Files, 1)
	require.Equal(t, []string{"a", "b.txt"}, mi.Info.Files[0].Path)
	require.EqualValues(t, 100, mi.Info.Length)
}

func TestParseMetaInfoRejectsPathTraversal(t *testing.T) {
	files := bencode.List(
		func() *bencode.Value {
			d := bencode.NewDict()
			d.Set("length", bencode.Int(10))
			d.Set("path", bencode.List(bencode.String("..")))
			return bencode.DictValue(d)
		}(),
	)
	info := bencode.NewDict()
	info.Set("name", bencode.String("evil"))
	info.Set("piece length", bencode.Int(1024))
	h := sha1.Sum(make([]byte, 10))
	info.Set("pieces", bencode.Bytes(h[:]))
	info.Set("files", files)

	top := bencode.NewDict()
	top.Set("info", bencode.DictValue(info))
	_, err := ParseMetaInfo(bencode.Marshal(bencode.DictValue(top)))
	require.Error(t, err)
}

func TestParseMagnetURI(t *testing.T) {
	raw := "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567&dn=Some+File&tr=http://a.example/announce&tr=http://b.example/announce"
	m, err := ParseMagnetURI(raw)
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef0123456789abcdef01234567", m.InfoHash.Hex())
	require.Equal(t, "Some File", m.DisplayName)
	require.Len(t, m.Trackers, 2)
}

func TestParseMagnetURIRejectsMissingXT(t *testing.T) {
	_, err := ParseMagnetURI("magnet:?dn=foo")
	require.Error(t, err)
}
