// Package cuda implements accel.Runtime on top of Nvidia's CUDA runtime (libcudart).
//
// It requires building with the "cuda" tag on Linux (go build -tags cuda), with the CUDA toolkit installed
// under /usr/local/cuda (or CGO_CFLAGS/CGO_LDFLAGS pointing to it). Otherwise New returns accel.ErrNotAvailable.
//
// Set DEVMEM_CUDA_CHECKS=0 to disable the warning issued when the runtime is built in but no Nvidia hardware
// is detected.
package cuda

import (
	"os"
	"strings"
)

// ChecksEnv is the environment variable that enables/disables hardware checks, enabled by default.
const ChecksEnv = "DEVMEM_CUDA_CHECKS"

// checksEnabled reports whether ChecksEnv is unset or set to a true value.
func checksEnabled() bool {
	v := os.Getenv(ChecksEnv)
	return v == "" || v == "1" || strings.ToUpper(v) == "TRUE" || strings.ToUpper(v) == "YES"
}
