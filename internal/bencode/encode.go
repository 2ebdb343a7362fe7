package bencode

import (
	"bytes"
	"sort"
	"strconv"
)

// Marshal produces the canonical bencode encoding of v: dictionary keys
// sorted lexicographically, integers without leading zeros, byte strings
// verbatim.
func Marshal(v *Value) []byte {
	var buf bytes.Buffer
	encodeValue(&buf, v)
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v *Value) {
	switch v.kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(v.i.String())
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.bytes)))
		buf.WriteByte(':')
		buf.Write(v.bytes)
	case KindList:
		buf.WriteByte('l')
		for _, e := range v.list {
			encodeValue(buf, e)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		keys := v.dict.Keys()
		sort.Strings(keys)
		for _, k := range keys {
			val, _ := v.dict.Get(k)
			encodeValue(buf, String(k))
			encodeValue(buf, val)
		}
		buf.WriteByte('e')
	}
}
