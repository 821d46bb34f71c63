package crypto

import "runtime"

// Wipe zeroes secrets in place once they are no longer needed. Copies made
// elsewhere (by the GC, by big.Int, by the OS) are out of reach.
//
//go:noinline
func Wipe(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
	runtime.KeepAlive(bufs)
}
