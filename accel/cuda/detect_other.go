//go:build !linux

package cuda

// HasNvidiaGPU always returns false: CUDA is only supported on Linux.
func HasNvidiaGPU() bool { return false }
