package arrowbridge

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/exsql-io/go-querybridge/logger"
	"github.com/exsql-io/go-querybridge/metrics"
)

// A lease is the borrow token behind one exported array. It is opened when the
// array is handed out and closed exactly once by the array's release
// callback, which is when the engine-side buffers may be reclaimed.
type lease struct {
	rows    int64
	release func()
}

type ledger struct {
	mu             sync.Mutex
	next           uint64
	open           map[uint64]lease
	doubleReleases atomic.Int64
	debug          atomic.Bool
}

var leases = newLedger()

func newLedger() *ledger {
	return &ledger{open: map[uint64]lease{}}
}

func (l *ledger) acquire(rows int64, release func()) uint64 {
	l.mu.Lock()
	l.next++
	token := l.next
	l.open[token] = lease{rows: rows, release: release}
	l.mu.Unlock()

	metrics.Default.ExportsInFlight.Inc()
	return token
}

// close runs the release of the lease identified by token. It reports false,
// and releases nothing, when the lease is unknown or already closed.
func (l *ledger) close(token uint64) bool {
	l.mu.Lock()
	entry, ok := l.open[token]
	if ok {
		delete(l.open, token)
	}
	l.mu.Unlock()

	if !ok {
		l.doubleReleases.Add(1)
		metrics.Default.DoubleReleases.Inc()
		if l.debug.Load() {
			logger.Get().Error("release callback invoked on a closed lease", slog.Uint64("lease", token))
		}

		return false
	}

	metrics.Default.ExportsInFlight.Dec()
	if entry.release != nil {
		entry.release()
	}

	return true
}

func (l *ledger) outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.open)
}

// Outstanding returns the number of exported arrays not released yet.
func Outstanding() int {
	return leases.outstanding()
}

// DoubleReleases returns how many release callbacks hit an already closed
// lease since process start.
func DoubleReleases() int64 {
	return leases.doubleReleases.Load()
}

// SetDebug turns on error logging for double releases.
func SetDebug(enabled bool) {
	leases.debug.Store(enabled)
}
