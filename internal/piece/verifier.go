package piece

import (
	"crypto/sha1"
	"fmt"
)

// OutOfBoundsError is returned when a piece index falls outside the torrent's
// piece count.
type OutOfBoundsError struct {
	Index int
	Count int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("piece: index %d out of bounds (count %d)", e.Index, e.Count)
}

// Verifier checks assembled piece bytes against their expected SHA-1
// digests, as read from the torrent's metainfo.
type Verifier struct {
	hashes [][20]byte
}

// NewVerifier builds a Verifier from the per-piece SHA-1 digests in
// metainfo-file order.
func NewVerifier(hashes [][20]byte) *Verifier {
	return &Verifier{hashes: hashes}
}

// Verify reports whether data matches the expected digest for piece i.
func (v *Verifier) Verify(i int, data []byte) (bool, error) {
	if i < 0 || i >= len(v.hashes) {
		return false, &OutOfBoundsError{Index: i, Count: len(v.hashes)}
	}
	got := sha1.Sum(data)
	return got == v.hashes[i], nil
}

// VerifyDetailed reports whether data matches the expected digest for piece
// i, returning both digests so a caller can report them on mismatch.
func (v *Verifier) VerifyDetailed(i int, data []byte) (ok bool, expected, actual [20]byte, err error) {
	if i < 0 || i >= len(v.hashes) {
		return false, [20]byte{}, [20]byte{}, &OutOfBoundsError{Index: i, Count: len(v.hashes)}
	}
	expected = v.hashes[i]
	actual = sha1.Sum(data)
	return actual == expected, expected, actual, nil
}

// ScanResult is the outcome of verifying one piece during a resume scan.
type ScanResult struct {
	Index int
	OK    bool
	Err   error
}

// ScanFunc supplies the on-disk bytes for piece i during a bulk resume scan.
type ScanFunc func(i int) ([]byte, error)

// Scan verifies every piece by reading it through read, yielding control
// between pieces via yield so callers can interleave the scan with other
// work (e.g. respecting a context cancellation or rate limit) without
// blocking the engine for the whole torrent. yield may be nil.
func (v *Verifier) Scan(read ScanFunc, yield func()) []ScanResult {
	results := make([]ScanResult, len(v.hashes))
	for i := range v.hashes {
		data, err := read(i)
		if err != nil {
			results[i] = ScanResult{Index: i, OK: false, Err: err}
		} else {
			ok, verr := v.Verify(i, data)
			results[i] = ScanResult{Index: i, OK: ok, Err: verr}
		}
		if yield != nil {
			yield()
		}
	}
	return results
}

// NumPieces returns the number of pieces this Verifier knows digests for.
func (v *Verifier) NumPieces() int {
	return len(v.hashes)
}
