//go:build !(cuda && linux)

package cuda

import (
	"github.com/gomlx/devmem/accel"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// New returns accel.ErrNotAvailable: this binary was built without the "cuda" tag (or not for Linux).
func New() (accel.Runtime, error) {
	if checksEnabled() && HasNvidiaGPU() {
		klog.Warningf("Nvidia GPU detected, but devmem was built without CUDA support: rebuild with -tags cuda "+
			"(set %s=0 to silence this warning)", ChecksEnv)
	}
	return nil, errors.Wrap(accel.ErrNotAvailable, "CUDA runtime is not supported on this build, build with -tags cuda on Linux")
}
