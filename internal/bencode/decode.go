package bencode

import (
	"math/big"
)

// Decode parses the single bencode value at the start of data and returns
// it along with the number of bytes consumed. It is strict: leading zeros in
// integers (other than the literal "0"), a "-0", unsorted or duplicate
// dictionary keys, and truncated input all produce a *MalformedError.
func Decode(data []byte) (*Value, int, error) {
	d := &decoder{data: data}
	v, err := d.decodeValue(0)
	if err != nil {
		return nil, 0, err
	}
	return v, d.pos, nil
}

// Unmarshal decodes exactly one bencode value from data, failing if there is
// any trailing data.
func Unmarshal(data []byte) (*Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, malformed(n, "trailing data after top-level value")
	}
	return v, nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) eof() bool {
	return d.pos >= len(d.data)
}

func (d *decoder) peek() (byte, error) {
	if d.eof() {
		return 0, malformed(d.pos, "unexpected end of input")
	}
	return d.data[d.pos], nil
}

func (d *decoder) decodeValue(depth int) (*Value, error) {
	if depth > 512 {
		return nil, malformed(d.pos, "nesting too deep")
	}
	b, err := d.peek()
	if err != nil {
		return nil, err
	}
	switch {
	case b == 'i':
		return d.decodeInt()
	case b == 'l':
		return d.decodeList(depth)
	case b == 'd':
		return d.decodeDict(depth)
	case b >= '0' && b <= '9':
		return d.decodeBytes()
	default:
		return nil, malformed(d.pos, "invalid value start byte %q", b)
	}
}

func (d *decoder) decodeInt() (*Value, error) {
	start := d.pos
	d.pos++ // consume 'i'
	end := d.indexByte('e', start+1)
	if end < 0 {
		return nil, malformed(start, "unterminated integer")
	}
	s := string(d.data[d.pos:end])
	if s == "" {
		return nil, malformed(d.pos, "empty integer")
	}
	if err := validateIntLiteral(s, d.pos); err != nil {
		return nil, err
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, malformed(d.pos, "invalid integer %q", s)
	}
	d.pos = end + 1
	return BigInt(n), nil
}

func validateIntLiteral(s string, offset int) error {
	neg := false
	digits := s
	if len(s) > 0 && s[0] == '-' {
		neg = true
		digits = s[1:]
	}
	if digits == "" {
		return malformed(offset, "integer has no digits")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return malformed(offset, "non-digit %q in integer", c)
		}
	}
	if digits == "0" && neg {
		return malformed(offset, "negative zero is not allowed")
	}
	if len(digits) > 1 && digits[0] == '0' {
		return malformed(offset, "leading zero in integer %q", s)
	}
	return nil
}

func (d *decoder) decodeBytes() (*Value, error) {
	start := d.pos
	colon := d.indexByte(':', start)
	if colon < 0 {
		return nil, malformed(start, "unterminated byte string length")
	}
	lenStr := string(d.data[start:colon])
	if len(lenStr) > 1 && lenStr[0] == '0' {
		return nil, malformed(start, "leading zero in string length %q", lenStr)
	}
	n, ok := new(big.Int).SetString(lenStr, 10)
	if !ok || n.Sign() < 0 {
		return nil, malformed(start, "invalid string length %q", lenStr)
	}
	if !n.IsInt64() {
		return nil, malformed(start, "string length too large")
	}
	length := n.Int64()
	dataStart := colon + 1
	dataEnd := dataStart + int(length)
	if length < 0 || dataEnd < 0 || dataEnd > len(d.data) {
		return nil, malformed(dataStart, "string of length %d exceeds available input", length)
	}
	b := Bytes(d.data[dataStart:dataEnd])
	d.pos = dataEnd
	return b, nil
}

func (d *decoder) decodeList(depth int) (*Value, error) {
	start := d.pos
	d.pos++ // consume 'l'
	var items []*Value
	for {
		if d.eof() {
			return nil, malformed(start, "unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			break
		}
		v, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return List(items...), nil
}

func (d *decoder) decodeDict(depth int) (*Value, error) {
	start := d.pos
	d.pos++ // consume 'd'
	dict := NewDict()
	prevKey := ""
	first := true
	for {
		if d.eof() {
			return nil, malformed(start, "unterminated dictionary")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			break
		}
		keyPos := d.pos
		keyVal, err := d.decodeBytes()
		if err != nil {
			return nil, err
		}
		if keyVal.Kind() != KindBytes {
			return nil, malformed(keyPos, "dictionary key is not a byte string")
		}
		key := keyVal.Str()
		if !first {
			if key <= prevKey {
				if key == prevKey {
					return nil, malformed(keyPos, "duplicate dictionary key %q", key)
				}
				return nil, malformed(keyPos, "dictionary keys out of lexicographic order: %q after %q", key, prevKey)
			}
		}
		first = false
		prevKey = key
		val, err := d.decodeValue(depth + 1)
		if err != nil {
			return nil, err
		}
		dict.Set(key, val)
	}
	return DictValue(dict), nil
}

// indexByte finds the next occurrence of c at or after from, within the
// un-decoded tail of input (bencode strings never contain an un-escaped ':'
// or 'e' boundary ambiguity because lengths are always explicit).
func (d *decoder) indexByte(c byte, from int) int {
	for i := from; i < len(d.data); i++ {
		if d.data[i] == c {
			return i
		}
	}
	return -1
}
