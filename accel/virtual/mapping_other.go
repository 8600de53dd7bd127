//go:build !unix

package virtual

// mapMemory falls back to the Go heap, which doesn't move objects.
func mapMemory(size uintptr) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory(mem []byte) error {
	return nil
}
