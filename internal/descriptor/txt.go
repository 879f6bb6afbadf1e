// ABOUTME: TXT rdata helpers for substrates that speak in strings
// ABOUTME: Splits rdata into segments and joins segments back into rdata
package descriptor

import "fmt"

// Segments splits TXT rdata into its length-prefixed strings
func Segments(rdata []byte) ([]string, error) {
	var segments []string
	for len(rdata) > 0 {
		n := int(rdata[0])
		if 1+n > len(rdata) {
			return nil, fmt.Errorf("truncated TXT segment: want %d bytes, have %d", n, len(rdata)-1)
		}
		segments = append(segments, string(rdata[1:1+n]))
		rdata = rdata[1+n:]
	}
	return segments, nil
}

// Join rebuilds TXT rdata from its strings
func Join(segments []string) ([]byte, error) {
	var rdata []byte
	for _, s := range segments {
		if len(s) > MaxLength {
			return nil, fmt.Errorf("TXT segment too long: %d bytes", len(s))
		}
		rdata = append(rdata, byte(len(s)))
		rdata = append(rdata, s...)
	}
	return rdata, nil
}
