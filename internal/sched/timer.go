package sched

import (
	"container/heap"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corowire/fibersched/control"
)

// rolloverWindow is how far backwards the clock must jump between
// consecutive observations before it is treated as a system clock
// reset rather than ordinary drift.
const rolloverWindow = time.Hour

// Timer is a single entry in a TimerManager's ordered set.
type Timer struct {
	mu        sync.Mutex
	ms        int64
	next      time.Time
	recurring bool
	cb        func()
	mgr       *TimerManager
	index     int
	seq       uint64
}

// Witness models the source's weak_ptr lock-or-skip pattern: it
// reports whether whatever the timer is conditioned on is still alive.
// Go has no public weak references, so callers typically close over a
// *atomic.Pointer or a context.Context's Done channel.
type Witness func() bool

type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].seq < h[j].seq
	}
	return h[i].next.Before(h[j].next)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerManager is the ordered timer set: one-shot/recurring/conditional
// timers with clock-rollover detection and wakeup coalescing.
type TimerManager struct {
	mu       sync.RWMutex
	heap     timerHeap
	prevTime time.Time
	tickled  atomic.Bool
	onFront  func()
	seq      uint64

	log     *control.Logger
	metrics *control.MetricsRegistry
}

// NewTimerManager constructs an empty TimerManager.
func NewTimerManager() *TimerManager {
	return &TimerManager{}
}

// SetLogger installs a diagnostic logger, used to report detected
// clock rollovers. Optional.
func (m *TimerManager) SetLogger(log *control.Logger) {
	m.log = log
}

// SetMetrics installs a metrics sink, refreshed with the timer set
// size whenever it changes. Optional.
func (m *TimerManager) SetMetrics(mr *control.MetricsRegistry) {
	m.metrics = mr
}

// RegisterDefaultProbes registers this timer manager's set-size probe
// into dp.
func (m *TimerManager) RegisterDefaultProbes(dp *control.DebugProbes) {
	if dp == nil {
		return
	}
	dp.RegisterProbe("timer.set_size", func() any {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return len(m.heap)
	})
}

func (m *TimerManager) reportSetSize() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.heap)
	m.mu.RUnlock()
	m.metrics.Set(control.MetricTimerSetSize, n)
}

// OnInsertedAtFront installs the hook invoked when a newly inserted or
// rescheduled timer becomes the new head of the set while previously
// tickled==false (IOManager uses this to wake its idle fiber).
func (m *TimerManager) OnInsertedAtFront(fn func()) {
	m.onFront = fn
}

// AddTimer allocates a timer firing ms milliseconds from now.
func (m *TimerManager) AddTimer(ms int64, cb func(), recurring bool) *Timer {
	assert(cb != nil, "AddTimer: cb must not be nil")
	t := &Timer{ms: ms, recurring: recurring, cb: cb, mgr: m}
	m.insert(t, time.Now())
	return t
}

// AddConditionTimer wraps cb so that at fire time it first consults
// witness; if witness reports the underlying object gone, cb is
// skipped. Ties timer validity to an unrelated object's lifetime
// without the timer strongly retaining it.
func (m *TimerManager) AddConditionTimer(ms int64, cb func(), witness Witness, recurring bool) *Timer {
	assert(cb != nil, "AddConditionTimer: cb must not be nil")
	wrapped := func() {
		if witness == nil || witness() {
			cb()
		}
	}
	return m.AddTimer(ms, wrapped, recurring)
}

func (m *TimerManager) insert(t *Timer, now time.Time) {
	t.next = now.Add(time.Duration(t.ms) * time.Millisecond)
	m.mu.Lock()
	m.seq++
	t.seq = m.seq
	heap.Push(&m.heap, t)
	front := m.heap[0] == t
	m.mu.Unlock()
	m.reportSetSize()
	m.maybeWakeFront(front)
}

func (m *TimerManager) maybeWakeFront(front bool) {
	if front && m.tickled.CompareAndSwap(false, true) && m.onFront != nil {
		m.onFront()
	}
}

// NextTimerMS reports how many milliseconds until the head of the set
// next fires, or math.MaxUint64 if the set is empty.
func (m *TimerManager) NextTimerMS() uint64 {
	m.tickled.Store(false)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.heap) == 0 {
		return math.MaxUint64
	}
	d := m.heap[0].next.Sub(time.Now())
	if d <= 0 {
		return 0
	}
	return uint64(d.Milliseconds())
}

// HasTimer reports whether the set is non-empty.
func (m *TimerManager) HasTimer() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.heap) > 0
}

// CollectExpired appends every callback due to fire to out, reinserting
// recurring timers and nulling one-shot timers' callbacks in place. A
// backwards clock jump of more than rolloverWindow flushes every
// outstanding timer regardless of its next instant.
func (m *TimerManager) CollectExpired(out *[]func()) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	rollover := !m.prevTime.IsZero() && now.Before(m.prevTime.Add(-rolloverWindow))
	if rollover && m.log != nil {
		control.LogClockRollover(m.log, uint64(m.prevTime.UnixMilli()), uint64(now.UnixMilli()))
	}
	for len(m.heap) > 0 {
		head := m.heap[0]
		if !rollover && head.next.After(now) {
			break
		}
		heap.Pop(&m.heap)
		head.mu.Lock()
		cb := head.cb
		recurring := head.recurring
		head.mu.Unlock()
		if cb == nil {
			continue
		}
		*out = append(*out, cb)
		if recurring {
			head.mu.Lock()
			head.next = now.Add(time.Duration(head.ms) * time.Millisecond)
			head.mu.Unlock()
			m.seq++
			head.seq = m.seq
			heap.Push(&m.heap, head)
		} else {
			head.mu.Lock()
			head.cb = nil
			head.mu.Unlock()
		}
	}
	m.prevTime = now
	if m.metrics != nil {
		m.metrics.Set(control.MetricTimerSetSize, len(m.heap))
	}
}

func (m *TimerManager) inHeap(t *Timer) bool {
	return t.index >= 0 && t.index < len(m.heap) && m.heap[t.index] == t
}

// Cancel removes t from the set. Returns false if t was already
// cancelled or had already fired as a one-shot.
func (t *Timer) Cancel() bool {
	t.mu.Lock()
	if t.cb == nil {
		t.mu.Unlock()
		return false
	}
	t.cb = nil
	t.mu.Unlock()

	t.mgr.mu.Lock()
	if t.mgr.inHeap(t) {
		heap.Remove(&t.mgr.heap, t.index)
	}
	t.mgr.mu.Unlock()
	return true
}

// Refresh re-arms t for ms milliseconds from now, without changing its
// period. Returns false if t has already fired/been cancelled.
func (t *Timer) Refresh() bool {
	t.mu.Lock()
	if t.cb == nil {
		t.mu.Unlock()
		return false
	}
	ms := t.ms
	t.mu.Unlock()

	t.mgr.mu.Lock()
	if !t.mgr.inHeap(t) {
		t.mgr.mu.Unlock()
		return false
	}
	heap.Remove(&t.mgr.heap, t.index)
	t.next = time.Now().Add(time.Duration(ms) * time.Millisecond)
	t.mgr.seq++
	t.seq = t.mgr.seq
	heap.Push(&t.mgr.heap, t)
	front := t.mgr.heap[0] == t
	t.mgr.mu.Unlock()

	t.mgr.maybeWakeFront(front)
	return true
}

// Reset changes t's period to ms. If fromNow is true the new next
// instant is measured from now; otherwise it is measured from t's
// previous base instant (next - old period), preserving phase. A call
// with an unchanged ms and fromNow==false is a no-op success.
func (t *Timer) Reset(ms int64, fromNow bool) bool {
	t.mu.Lock()
	if t.cb == nil {
		t.mu.Unlock()
		return false
	}
	if ms == t.ms && !fromNow {
		t.mu.Unlock()
		return true
	}
	oldMs := t.ms
	oldNext := t.next
	t.mu.Unlock()

	t.mgr.mu.Lock()
	// t.cb was checked under t.mu only, so a concurrent CollectExpired
	// (firing a one-shot) or Cancel may have taken t out of the heap
	// since; like Refresh, report failure rather than reinsert it.
	if !t.mgr.inHeap(t) {
		t.mgr.mu.Unlock()
		return false
	}
	heap.Remove(&t.mgr.heap, t.index)

	var base time.Time
	if fromNow {
		base = time.Now()
	} else {
		base = oldNext.Add(-time.Duration(oldMs) * time.Millisecond)
	}
	t.mu.Lock()
	t.ms = ms
	t.next = base.Add(time.Duration(ms) * time.Millisecond)
	t.mu.Unlock()

	t.mgr.seq++
	t.seq = t.mgr.seq
	heap.Push(&t.mgr.heap, t)
	front := t.mgr.heap[0] == t
	t.mgr.mu.Unlock()

	t.mgr.maybeWakeFront(front)
	return true
}
