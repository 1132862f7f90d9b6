package olsr

import (
	"math"
	"time"
)

// ScaleFactor is the RFC 3626 §18.3 vtime/htime scale constant "C".
const ScaleFactor = 1.0 / 16.0

// EncodeTime compresses d into the 8-bit mantissa/exponent form used for
// vtime and htime fields: value = C*(1+a/16)*2^b, a the upper 4 bits, b the
// lower 4 bits. The result rounds up so the decoded value never undershoots
// d (§4.9).
func EncodeTime(d time.Duration) byte {
	seconds := d.Seconds()
	if seconds <= 0 {
		return 0
	}
	var b uint
	for b = 0; b < 15; b++ {
		if seconds/ScaleFactor < float64(uint64(2)<<b) {
			break
		}
	}
	a := int(math.Ceil((seconds/(ScaleFactor*float64(uint64(1)<<b)) - 1) * 16))
	if a < 0 {
		a = 0
	}
	if a > 15 {
		if b < 15 {
			b++
			a = 0
		} else {
			a = 15
		}
	}
	return byte(a<<4) | byte(b)
}

// DecodeTime expands the compressed 8-bit value back into a Duration.
func DecodeTime(v byte) time.Duration {
	a := float64(v >> 4)
	b := uint(v & 0x0F)
	seconds := ScaleFactor * (1 + a/16) * float64(uint64(1)<<b)
	return time.Duration(seconds * float64(time.Second))
}
