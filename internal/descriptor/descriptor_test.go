// ABOUTME: Tests for the capability descriptor
// ABOUTME: Covers length limits, prefix byte, and TXT segment handling
package descriptor

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLengthPrefix(t *testing.T) {
	for n := 0; n <= 300; n++ {
		capType := strings.Repeat("x", n)
		desc, err := Encode(capType)

		if n <= MaxTypeLength {
			require.NoError(t, err, "length %d", n)
			assert.Equal(t, byte(5+n), desc[0], "length %d", n)
			assert.Equal(t, "type="+capType, string(desc[1:]))
			continue
		}

		var tooLarge *PayloadTooLargeError
		require.True(t, errors.As(err, &tooLarge), "length %d", n)
		assert.Equal(t, 5+n, tooLarge.Length)
		assert.Nil(t, desc)
	}
}

func TestMaxTypeLength(t *testing.T) {
	assert.Equal(t, 250, MaxTypeLength)
}

func TestPayloadAndDecode(t *testing.T) {
	desc, err := Encode("chat")
	require.NoError(t, err)

	payload := Payload(desc)
	assert.Equal(t, []byte("type=chat"), payload)

	capType, ok := Decode(payload)
	assert.True(t, ok)
	assert.Equal(t, "chat", capType)

	payload[0] = 'X'
	assert.Equal(t, byte('t'), desc[1], "Payload must not alias the descriptor")
}

func TestDecodeForeignPayload(t *testing.T) {
	_, ok := Decode([]byte("path=/"))
	assert.False(t, ok)

	assert.Nil(t, Payload(nil))
}

func TestSegmentsRoundTrip(t *testing.T) {
	desc, err := Encode("printer")
	require.NoError(t, err)

	segments, err := Segments(desc)
	require.NoError(t, err)
	assert.Equal(t, []string{"type=printer"}, segments)

	rdata, err := Join(segments)
	require.NoError(t, err)
	assert.Equal(t, desc, rdata)
}

func TestSegmentsMultiple(t *testing.T) {
	rdata := []byte("\x03a=b\x00\x04cd=e")

	segments, err := Segments(rdata)
	require.NoError(t, err)
	assert.Equal(t, []string{"a=b", "", "cd=e"}, segments)
}

func TestSegmentsTruncated(t *testing.T) {
	_, err := Segments([]byte("\x09type=c"))
	assert.Error(t, err)
}

func TestJoinRejectsLongSegment(t *testing.T) {
	_, err := Join([]string{strings.Repeat("y", 256)})
	assert.Error(t, err)
}
