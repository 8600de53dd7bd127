package virtual

import (
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	// DevicesEnv sets the default number of devices of a new virtual runtime.
	DevicesEnv = "DEVMEM_VIRTUAL_DEVICES"

	// CapacityEnv sets the default per-device capacity of a new virtual runtime, e.g. "256MiB".
	CapacityEnv = "DEVMEM_VIRTUAL_CAPACITY"

	// DefaultCapacity is the per-device capacity used if none is configured.
	DefaultCapacity = 1 << 30
)

// Config configures a new virtual Runtime. Create it with New, and at the end call Config.Done.
//
// Defaults are 1 device with DefaultCapacity bytes, overridden by the environment variables
// DevicesEnv and CapacityEnv, and then by the With* methods.
type Config struct {
	name       string
	numDevices int
	capacity   uint64

	// err stores the first error that happened during configuration.
	// If it is not nil, it is immediately returned by the Done call.
	err error
}

// New returns a configuration for a virtual Runtime.
func New() *Config {
	c := &Config{
		name:       "virtual",
		numDevices: 1,
		capacity:   DefaultCapacity,
	}
	if v := os.Getenv(DevicesEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.err = errors.Wrapf(err, "failed to parse $%s=%q", DevicesEnv, v)
			return c
		}
		c.WithDevices(n)
	}
	if v := os.Getenv(CapacityEnv); v != "" {
		capacity, err := humanize.ParseBytes(v)
		if err != nil {
			c.err = errors.Wrapf(err, "failed to parse $%s=%q", CapacityEnv, v)
			return c
		}
		c.WithCapacity(capacity)
	}
	return c
}

// WithName sets the name of the runtime, used in logs and errors.
func (c *Config) WithName(name string) *Config {
	if c.err != nil {
		return c
	}
	c.name = name
	return c
}

// WithDevices sets the number of virtual devices, it must be at least 1.
func (c *Config) WithDevices(numDevices int) *Config {
	if c.err != nil {
		return c
	}
	if numDevices < 1 {
		c.err = errors.Errorf("virtual runtime requires at least one device, got %d", numDevices)
		return c
	}
	c.numDevices = numDevices
	return c
}

// WithCapacity sets the number of bytes each device can have allocated at any time.
// Allocations beyond that fail with accel.ErrOutOfMemory.
func (c *Config) WithCapacity(capacity uint64) *Config {
	if c.err != nil {
		return c
	}
	if capacity == 0 {
		c.err = errors.New("virtual runtime capacity must be positive")
		return c
	}
	c.capacity = capacity
	return c
}

// Done creates the Runtime.
func (c *Config) Done() (*Runtime, error) {
	if c.err != nil {
		return nil, c.err
	}
	return newRuntime(c), nil
}
