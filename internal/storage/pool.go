package storage

import (
	"context"
	"log/slog"
	"time"
)

// pool enforces §4.2's "one writer at a time, readers parallel" discipline
// on top of a single *sql.DB. WAL mode already allows concurrent readers at
// the SQLite layer; pool additionally bounds how many goroutines may hold a
// read lease at once (matching the configured connection_pool_size) and
// serializes writers through a 1-slot semaphore, logging leases held past
// slow_query_threshold_ms.
type pool struct {
	readTickets chan struct{}
	writeTicket chan struct{}
	slowAfter   time.Duration
	logger      *slog.Logger
}

func newPool(size int, slowAfter time.Duration, logger *slog.Logger) *pool {
	if size <= 0 {
		size = 8
	}
	p := &pool{
		readTickets: make(chan struct{}, size),
		writeTicket: make(chan struct{}, 1),
		slowAfter:   slowAfter,
		logger:      logger,
	}
	for i := 0; i < size; i++ {
		p.readTickets <- struct{}{}
	}
	p.writeTicket <- struct{}{}
	return p
}

// lease is an acquired pool ticket; release must be called exactly once,
// including on panic (caller uses defer).
type lease struct {
	release func()
	start   time.Time
	kind    string
	p       *pool
}

func (l *lease) Release() {
	elapsed := time.Since(l.start)
	if elapsed > l.p.slowAfter && l.p.slowAfter > 0 {
		l.p.logger.Warn("storage: slow connection lease", "kind", l.kind, "elapsed", elapsed)
	}
	l.release()
}

// acquireRead blocks until a read ticket is available or ctx is cancelled.
func (p *pool) acquireRead(ctx context.Context) (*lease, error) {
	select {
	case <-p.readTickets:
		return &lease{
			release: func() { p.readTickets <- struct{}{} },
			start:   time.Now(),
			kind:    "read",
			p:       p,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// acquireWrite blocks until the single write ticket is available or ctx is
// cancelled. Only one writer may hold a lease at a time (WAL enforces this
// at the SQLite layer too; the ticket avoids busy-retry storms).
func (p *pool) acquireWrite(ctx context.Context) (*lease, error) {
	select {
	case <-p.writeTicket:
		return &lease{
			release: func() { p.writeTicket <- struct{}{} },
			start:   time.Now(),
			kind:    "write",
			p:       p,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
