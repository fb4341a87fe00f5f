package crypto

// SecureZero overwrites the provided byte slice with zeros so key
// material does not linger in memory after use. Go's garbage collector
// does not guarantee freed memory is cleared.
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
