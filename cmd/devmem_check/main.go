// devmem_check runs the memory primitives (allocate, copy in every direction, import and residency probing)
// against a selected accelerator runtime, and prints a report.
//
// Usage:
//
//	devmem_check -runtime=virtual -devices=2 -capacity=256MiB -sizes=0,1,3,4KiB,1MiB -dtypes=f16,float32,int8
//	devmem_check -runtime=cuda -v=2
//
// With -metrics_addr it also serves the Prometheus metrics, and keeps serving after the checks until interrupted.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devmem/accel"
	"github.com/gomlx/devmem/accel/cuda"
	"github.com/gomlx/devmem/accel/virtual"
	"github.com/gomlx/devmem/memory"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"
)

var (
	flagRuntime = flag.String("runtime", "virtual",
		"Accelerator runtime to check: \"virtual\" (pure Go), \"cuda\" (requires building with -tags cuda) or \"none\" (host only).")
	flagDevices = flag.Int("devices", 0,
		fmt.Sprintf("Number of devices of the virtual runtime. If 0, it uses $%s or 1.", virtual.DevicesEnv))
	flagCapacity = flag.String("capacity", "",
		fmt.Sprintf("Memory capacity per device of the virtual runtime, e.g. \"256MiB\". If empty, it uses $%s or %s.",
			virtual.CapacityEnv, humanize.IBytes(virtual.DefaultCapacity)))
	flagSizes = flag.String("sizes", "0,1,3,4KiB,1MiB",
		"Comma-separated list of buffer sizes to check, e.g. \"0,1,3,4KiB\".")
	flagDTypes = flag.String("dtypes", "bool,int8,uint16,float16,float32,float64,complex128",
		"Comma-separated list of dtypes whose flat values are moved to every device and back. Empty to skip.")
	flagMetricsAddr = flag.String("metrics_addr", "",
		"If set, serve Prometheus metrics on this address (e.g. \":9090\") under /metrics.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	sizes, err := parseSizes(*flagSizes)
	if err != nil {
		klog.Fatalf("Invalid -sizes: %+v", err)
	}
	dtypeList, err := parseDTypes(*flagDTypes)
	if err != nil {
		klog.Fatalf("Invalid -dtypes: %+v", err)
	}
	if *flagMetricsAddr != "" {
		go serveMetrics(*flagMetricsAddr)
	}

	rt, err := newRuntime()
	if err != nil {
		klog.Fatalf("Failed to create %q runtime: %+v", *flagRuntime, err)
	}
	config := memory.New()
	if rt != nil {
		config = config.WithAccelerator(rt)
	}
	m, err := config.Done()
	if err != nil {
		klog.Fatalf("Failed to create memory manager: %+v", err)
	}
	fmt.Printf("Checking %s:\n", m)

	r := &report{}
	for _, size := range sizes {
		runChecks(r, m, size)
	}
	checkDTypes(r, m, dtypeList)
	if rt != nil {
		checkUnsupportedResidency(r, m)
	}
	if alive := memory.BuffersAlive(); alive != 0 {
		r.add("buffers released", errors.Errorf("%d buffers still alive", alive))
	} else {
		r.add("buffers released", nil)
	}
	if destroyer, ok := rt.(interface{ Destroy() error }); ok {
		r.add("runtime destroyed", destroyer.Destroy())
	}

	fmt.Printf("\n%d checks, %d failed.\n", r.numChecks, r.numFailed)
	if *flagMetricsAddr != "" {
		fmt.Printf("Serving metrics on %s/metrics, press Ctrl+C to exit.\n", *flagMetricsAddr)
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt)
		<-interrupt
	}
	if r.numFailed > 0 {
		os.Exit(1)
	}
}

// newRuntime creates the runtime selected by -runtime. It returns nil for "none".
func newRuntime() (accel.Runtime, error) {
	switch *flagRuntime {
	case "none":
		return nil, nil
	case "cuda":
		return cuda.New()
	case "virtual":
		config := virtual.New()
		if *flagDevices > 0 {
			config = config.WithDevices(*flagDevices)
		}
		if *flagCapacity != "" {
			capacity, err := humanize.ParseBytes(*flagCapacity)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid -capacity=%q", *flagCapacity)
			}
			config = config.WithCapacity(capacity)
		}
		return config.Done()
	default:
		return nil, errors.Errorf("unknown runtime %q, valid values are \"virtual\", \"cuda\" or \"none\"", *flagRuntime)
	}
}

// parseSizes parses a comma-separated list of human-readable byte sizes.
func parseSizes(list string) ([]uintptr, error) {
	var sizes []uintptr
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		size, err := humanize.ParseBytes(part)
		if err != nil {
			return nil, errors.Wrapf(err, "size %q", part)
		}
		sizes = append(sizes, uintptr(size))
	}
	if len(sizes) == 0 {
		return nil, errors.New("no sizes given")
	}
	return sizes, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		klog.Fatalf("Failed to serve metrics on %s: %+v", addr, err)
	}
}
