package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handler cancels the run on SIGINT/SIGTERM and removes what the run left
// behind, whether it ends normally or is interrupted.
type Handler struct {
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.Mutex
	cleanupFns []cleanup
	nextID     int
	once       sync.Once
	stop       func()
}

// New creates a new shutdown handler
func New() *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the shutdown context
func (h *Handler) Context() context.Context {
	return h.ctx
}

type cleanup struct {
	id int
	fn func()
}

// AddCleanup registers a cleanup function. Cleanups run once, most recent
// first. The returned func unregisters fn, for work that cleaned up after
// itself before shutdown.
func (h *Handler) AddCleanup(fn func()) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.cleanupFns = append(h.cleanupFns, cleanup{id: id, fn: fn})

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, c := range h.cleanupFns {
			if c.id == id {
				h.cleanupFns = append(h.cleanupFns[:i], h.cleanupFns[i+1:]...)
				return
			}
		}
	}
}

// Listen starts listening for shutdown signals
func (h *Handler) Listen() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	h.mu.Lock()
	h.stop = func() {
		signal.Stop(sigChan)
		close(done)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-sigChan:
			h.Shutdown()
		case <-done:
		}
	}()
}

// Shutdown cancels the context and runs the cleanups. Safe to call more than once.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.cancel()

		h.mu.Lock()
		fns := h.cleanupFns
		stop := h.stop
		h.cleanupFns = nil
		h.mu.Unlock()

		for i := len(fns) - 1; i >= 0; i-- {
			fns[i].fn()
		}
		if stop != nil {
			stop()
		}
	})
}
