package tx

import (
	"context"
	"sync"
)

// SerialRunner is a Runner for in-memory stores: it provides the "no
// interleaving" half of the transaction contract by serializing all units
// behind one mutex. Rollback is not emulated; tests that exercise failure
// paths assert on observable state instead.
type SerialRunner struct {
	mu sync.Mutex
}

func NewSerialRunner() *SerialRunner {
	return &SerialRunner{}
}

func (r *SerialRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
