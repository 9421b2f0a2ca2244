package provision

import (
	"fmt"
	"sync"

	"github.com/soundvault/rfidcore/internal/types"
)

// TransportGuard hands exclusive use of the serial transport to one session
// at a time. Acquisition never queues: a busy transport is an immediate
// user-visible failure so the operator gets instant feedback.
type TransportGuard struct {
	mu     sync.Mutex
	holder string
}

func NewTransportGuard() *TransportGuard {
	return &TransportGuard{}
}

func (g *TransportGuard) TryAcquire(holder string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder != "" {
		return fmt.Errorf("transport claimed by %s session: %w", g.holder, types.ErrDeviceBusy)
	}
	g.holder = holder
	return nil
}

func (g *TransportGuard) Release(holder string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.holder == holder {
		g.holder = ""
	}
}

func (g *TransportGuard) Holder() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}
