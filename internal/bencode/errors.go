package bencode

import "fmt"

// MalformedError reports a violation of the bencode grammar: a leading zero
// in an integer, an unsorted or duplicate dictionary key, a truncated
// length-prefixed string, or a missing 'e' terminator.
type MalformedError struct {
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("bencode: malformed input at offset %d: %s", e.Offset, e.Reason)
}

func malformed(offset int, format string, args ...interface{}) error {
	return &MalformedError{Offset: offset, Reason: fmt.Sprintf(format, args...)}
}
