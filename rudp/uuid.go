package rudp

import (
	"math/rand"
	"sync"
	"time"
)

// Every parsed datagram gets a short hex uuid so that all log lines about
// it can be correlated. The generator is a pooled non-cryptographic PRNG:
// quality suffices for correlation only, never for security, and it must
// not touch a blocking entropy source on the hot path.

const hexChars = "0123456789abcdef"

var uuidSrc = sync.Pool{
	New: func() any {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	},
}

// genHexUUID returns 16 fresh hex characters.
func genHexUUID() string {
	src := uuidSrc.Get().(*rand.Rand)
	bits := src.Uint64()
	uuidSrc.Put(src)

	var b [16]byte
	for i := range b {
		b[i] = hexChars[bits&0xf]
		bits >>= 4
	}
	return string(b[:])
}
