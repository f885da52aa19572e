package cryptoutils

import "crypto/subtle"

// Wipe overwrites b with zeros. ConstantTimeCopy keeps the compiler from
// eliding the writes as dead stores.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
