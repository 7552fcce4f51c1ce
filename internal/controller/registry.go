package controller

import (
	"sync"

	"github.com/opencnc/cncstream/internal/protocol"
)

// Registry is the process-wide `port -> controller` map, kept as an explicit dependency passed
// into whatever wires controllers together rather than an ambient global. Its
// mutations are guarded by its own lock, as are ConnectionMux's; everything else about a
// controller's own state is only ever touched from that controller's event-loop goroutine.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]protocol.Controller
}

func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]protocol.Controller)}
}

// Register installs c under port. If a controller is already registered there without having
// been cleanly closed, its previous value is returned so the caller can log the
// re-open-without-close anomaly; the new controller
// supersedes it in the map regardless.
func (r *Registry) Register(port string, c protocol.Controller) (previous protocol.Controller, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, hadPrevious = r.controllers[port]
	r.controllers[port] = c
	return previous, hadPrevious
}

func (r *Registry) Unregister(port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, port)
}

func (r *Registry) Get(port string) (protocol.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[port]
	return c, ok
}

func (r *Registry) List() []protocol.Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]protocol.Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		list = append(list, c)
	}
	return list
}
