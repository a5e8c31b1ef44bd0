package display

import (
	"context"
	"sync"
	"time"

	logx "notifrelay/pkg/logx"
)

type showReq struct {
	id  int
	gen uint64
	d   Descriptor
}

// Async decouples callers from a slow display. It keeps one pending
// descriptor; a newer Show replaces a pending one that was not drawn yet.
// Close invalidates every show for that id issued before it, including one
// Run has already taken.
type Async struct {
	next    Display
	log     logx.Logger
	timeout time.Duration

	mu   sync.Mutex
	slot chan showReq
	gens map[int]uint64

	// held while drawing or closing so the two never interleave
	drawMu sync.Mutex
}

func NewAsync(next Display, log logx.Logger) *Async {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Async{
		next:    next,
		log:     log,
		timeout: 5 * time.Second,
		slot:    make(chan showReq, 1),
		gens:    map[int]uint64{},
	}
}

// Show never blocks.
func (a *Async) Show(_ context.Context, id int, d Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.slot:
	default:
	}
	a.slot <- showReq{id: id, gen: a.gens[id], d: d}
	return nil
}

// Close waits for an in-flight draw to finish, then closes id.
func (a *Async) Close(ctx context.Context, id int) error {
	a.mu.Lock()
	a.gens[id]++
	select {
	case req := <-a.slot:
		if req.id != id {
			a.slot <- req
		}
	default:
	}
	a.mu.Unlock()

	a.drawMu.Lock()
	defer a.drawMu.Unlock()
	if c, ok := a.next.(Closer); ok {
		return c.Close(ctx, id)
	}
	return nil
}

func (a *Async) draw(ctx context.Context, req showReq) {
	a.drawMu.Lock()
	defer a.drawMu.Unlock()

	a.mu.Lock()
	stale := req.gen != a.gens[req.id]
	a.mu.Unlock()
	if stale {
		a.log.Debug("dropping show for closed display", logx.Int("id", req.id))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, a.timeout)
	err := a.next.Show(cctx, req.id, req.d)
	cancel()
	if err != nil {
		a.log.Warn("status display failed", logx.Int("id", req.id), logx.Err(err))
	}
}

// Run draws pending descriptors until ctx is done.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-a.slot:
			a.draw(ctx, req)
		}
	}
}
