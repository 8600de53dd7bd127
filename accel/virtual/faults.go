package virtual

import "github.com/pkg/errors"

// Op identifies a runtime operation, for fault injection.
type Op int

const (
	// OpMalloc covers MallocManaged, Malloc and MallocHost.
	OpMalloc Op = iota
	OpFree
	OpPointerAttributes
	OpMemcpy
)

var opNames = [...]string{
	OpMalloc:            "Malloc",
	OpFree:              "Free",
	OpPointerAttributes: "PointerAttributes",
	OpMemcpy:            "Memcpy",
}

func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return "Op(?)"
	}
	return opNames[op]
}

// FailNext makes the next call to op fail with err, as if the hardware runtime had reported it.
// Only one pending fault per op is kept, the last one set wins.
func (r *Runtime) FailNext(op Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.faults[op]; !found {
		r.numFaults.Add(1)
	}
	r.faults[op] = err
}

// takeFault returns and clears the pending fault for op, if any.
func (r *Runtime) takeFault(op Op) error {
	if r.numFaults.Load() == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	err, found := r.faults[op]
	if !found {
		return nil
	}
	delete(r.faults, op)
	r.numFaults.Add(-1)
	return errors.WithMessagef(err, "%s: injected fault in %s", r.name, op)
}
