package memory

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buffersLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "devmem_buffers_live",
		Help: "Current number of live (not released) buffers",
	}, []string{"kind"})

	bytesLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "devmem_buffers_live_bytes",
		Help: "Current total size of live buffers in bytes",
	}, []string{"kind"})

	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_allocations_total",
		Help: "Total number of successful allocations",
	}, []string{"kind"})

	allocationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_allocation_failures_total",
		Help: "Total number of failed allocations",
	}, []string{"kind"})

	releaseFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_release_failures_total",
		Help: "Total number of buffer release actions that returned an error",
	}, []string{"kind"})

	copiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_copies_total",
		Help: "Total number of successful copies",
	}, []string{"direction"})

	copiedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_copied_bytes_total",
		Help: "Total number of bytes copied",
	}, []string{"direction"})

	copyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_copy_failures_total",
		Help: "Total number of failed copies, including pointers that couldn't be classified",
	}, []string{"direction"})

	importsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devmem_imports_total",
		Help: "Total number of successful buffer imports, by outcome (zero_copy or copied)",
	}, []string{"outcome"})
)

const (
	importZeroCopy = "zero_copy"
	importCopied   = "copied"
)
