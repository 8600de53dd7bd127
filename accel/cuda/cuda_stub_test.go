//go:build !(cuda && linux)

package cuda

import (
	"testing"

	"github.com/gomlx/devmem/accel"
	"github.com/stretchr/testify/require"
)

func TestNewNotAvailable(t *testing.T) {
	t.Setenv(ChecksEnv, "0")
	rt, err := New()
	require.Nil(t, rt)
	require.ErrorIs(t, err, accel.ErrNotAvailable)
}
