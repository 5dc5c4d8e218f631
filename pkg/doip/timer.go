package doip

import (
	"container/heap"
	"sync"
	"time"
)

// TimerExpiry is delivered on a Connection's own channel when one of
// its timers fires. The TimerManager never invokes a handler directly
// from its own goroutine; it only ever sends this value.
type TimerExpiry struct {
	Timer TimerID
	Seq   uint64
}

// TimerManager runs a single goroutine that drives every armed timer
// across every connection off one min-heap of deadlines, grounded on
// original_source/src/DoIPDefaultConnection.cpp's
// m_timerManager->addTimer/restartTimer/stopAll usage. container/heap
// is used because no ecosystem timer-wheel/heap library appears
// anywhere in the retrieval pack (see DESIGN.md).
type TimerManager struct {
	log Logger

	mu     sync.Mutex
	pq     timerHeap
	seq    map[ownerTimer]uint64 // current sequence per (owner, timer); stale firings are ignored
	wake   chan struct{}
	stop   chan struct{}
	closed bool
}

type ownerTimer struct {
	owner chan<- TimerExpiry
	timer TimerID
}

type timerEntry struct {
	deadline time.Time
	owner    chan<- TimerExpiry
	timer    TimerID
	seq      uint64
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x interface{}) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// NewTimerManager starts the manager's driving goroutine.
func NewTimerManager(log Logger) *TimerManager {
	if log == nil {
		log = NewLogger()
	}
	m := &TimerManager{
		log:  log,
		seq:  make(map[ownerTimer]uint64),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go m.run()
	return m
}

// Add arms timer id, to fire after d, delivering a TimerExpiry to
// owner. Re-arming the same (owner, timer) pair invalidates any
// previously scheduled firing for it (restartTimer semantics).
func (m *TimerManager) Add(owner chan<- TimerExpiry, id TimerID, d time.Duration) {
	m.mu.Lock()
	key := ownerTimer{owner, id}
	m.seq[key]++
	seq := m.seq[key]
	heap.Push(&m.pq, &timerEntry{
		deadline: time.Now().Add(d),
		owner:    owner,
		timer:    id,
		seq:      seq,
	})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Cancel disarms timer id for owner, if armed. It bumps the sequence
// rather than deleting it: deleting would reset the next Add back to
// seq 1, which a still-queued heap entry from before this timer's very
// first Add could also carry, letting a cancelled timer fire.
// Incrementing keeps every future seq for this key distinct from every
// seq a stale heap entry could already hold.
func (m *TimerManager) Cancel(owner chan<- TimerExpiry, id TimerID) {
	m.mu.Lock()
	m.seq[ownerTimer{owner, id}]++
	m.mu.Unlock()
}

// CancelAll disarms every timer for owner (stopAll, called on
// connection close/finalize).
func (m *TimerManager) CancelAll(owner chan<- TimerExpiry) {
	m.mu.Lock()
	for k := range m.seq {
		if k.owner == owner {
			delete(m.seq, k)
		}
	}
	m.mu.Unlock()
}

// Close stops the manager's goroutine. Idempotent.
func (m *TimerManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
}

func (m *TimerManager) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		m.mu.Lock()
		var wait time.Duration
		if m.pq.Len() > 0 {
			wait = time.Until(m.pq[0].deadline)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		m.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-m.stop:
			return
		case <-m.wake:
			continue
		case <-timer.C:
			m.fireExpired()
		}
	}
}

func (m *TimerManager) fireExpired() {
	now := time.Now()
	for {
		m.mu.Lock()
		if m.pq.Len() == 0 || m.pq[0].deadline.After(now) {
			m.mu.Unlock()
			return
		}
		e := heap.Pop(&m.pq).(*timerEntry)
		current := m.seq[ownerTimer{e.owner, e.timer}]
		m.mu.Unlock()

		if e.seq != current {
			continue // superseded by a later Add/Cancel; drop silently
		}
		select {
		case e.owner <- TimerExpiry{Timer: e.timer, Seq: e.seq}:
		default:
			m.log.Warnf("timer %v expiry dropped: owner channel full", e.timer)
		}
	}
}
