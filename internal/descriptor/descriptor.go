// ABOUTME: Capability descriptor attached to every announcement
// ABOUTME: Encodes the capability type as a length-prefixed TXT string
package descriptor

import (
	"fmt"
	"strings"
)

const (
	// Prefix precedes the capability type inside the descriptor
	Prefix = "type="

	// MaxLength is the largest value the single length byte can carry
	MaxLength = 0xff

	// MaxTypeLength is the longest capability type that still fits
	MaxTypeLength = MaxLength - len(Prefix)
)

// PayloadTooLargeError reports a capability type whose descriptor exceeds one TXT string
type PayloadTooLargeError struct {
	Type   string
	Length int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("capability type too long (max %d bytes): descriptor would be %d bytes",
		MaxTypeLength, e.Length)
}

// Encode builds the descriptor len || "type=" || capabilityType
func Encode(capabilityType string) ([]byte, error) {
	length := len(Prefix) + len(capabilityType)
	if length > MaxLength {
		return nil, &PayloadTooLargeError{Type: capabilityType, Length: length}
	}

	buf := make([]byte, 0, length+1)
	buf = append(buf, byte(length))
	buf = append(buf, Prefix...)
	buf = append(buf, capabilityType...)
	return buf, nil
}

// Payload drops the leading length byte from TXT rdata. This is what peers keep.
func Payload(rdata []byte) []byte {
	if len(rdata) == 0 {
		return nil
	}
	payload := make([]byte, len(rdata)-1)
	copy(payload, rdata[1:])
	return payload
}

// Decode extracts the capability type from a peer payload
func Decode(payload []byte) (string, bool) {
	s := string(payload)
	if !strings.HasPrefix(s, Prefix) {
		return "", false
	}
	return s[len(Prefix):], true
}
