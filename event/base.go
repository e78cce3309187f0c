package event

import (
	"container/heap"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"evmux/event/internal"
	"evmux/internal/clock"
)

var defaultLogger = Logger(log.New(os.Stderr, "", log.LstdFlags))

// Logger is the minimal logging interface the loop needs.
type Logger interface {
	Printf(format string, args ...interface{})
}

// LoopFlags modify a single call to Base.Loop.
type LoopFlags int

const (
	// LoopOnce blocks until at least one callback has run, runs every
	// callback that became active in that turn, then returns.
	LoopOnce LoopFlags = 1 << iota
	// LoopNonblock polls without blocking, runs whatever is ready, then
	// returns.
	LoopNonblock
	// LoopNoExitOnEmpty keeps looping even when no events are added,
	// waiting for Trigger.
	LoopNoExitOnEmpty
)

// activation is one entry in the active queue. gen must still match the
// event's generation when the entry is dispatched.
type activation struct {
	ev  *Event
	gen uint64
}

type fdEntry struct {
	events []*Event
	mask   What
}

// Base is the reactor: it owns the event table, the timer heap and the
// active queue, and runs every callback on the goroutine that calls Loop.
type Base struct {
	opts    *Options
	backend Backend
	clock   clock.Clock
	logger  Logger
	metrics *Metrics

	nextID  uint64
	events  map[uint64]*Event
	fds     map[int]*fdEntry
	signals map[int]*signalEntry
	timers  timerHeap
	active  *queue.Queue
	jobs    internal.AsyncJobQueue

	running  bool
	gotBreak bool
	gotExit  bool
	closed   atomic.Bool
}

// NewBase creates a reactor. Without WithBackend it opens the platform
// poller.
func NewBase(opts ...Option) (*Base, error) {
	options := loadOptions(opts...)
	b := &Base{
		opts:    options,
		metrics: options.Metrics,
		events:  make(map[uint64]*Event),
		fds:     make(map[int]*fdEntry),
		signals: make(map[int]*signalEntry),
		active:  queue.New(),
		jobs:    internal.NewAsyncJobQueue(),
	}
	b.logger = options.Logger
	if b.logger == nil {
		b.logger = defaultLogger
	}
	b.clock = options.Clock
	if b.clock == nil {
		b.clock = clock.Real()
	}
	b.backend = options.Backend
	if b.backend == nil {
		backend, err := NewPollBackend()
		if err != nil {
			return nil, err
		}
		b.backend = backend
	}
	return b, nil
}

// NewEvent creates an inert event on fd for the conditions in what. Use a
// negative fd with no EvRead/EvWrite for a pure timer, and the signal number
// as fd with EvSignal for a signal event. It is safe to call from any
// goroutine.
func (b *Base) NewEvent(fd int, what What, cb Callback) *Event {
	return &Event{
		id:        atomic.AddUint64(&b.nextID, 1),
		base:      b,
		fd:        fd,
		what:      what,
		cb:        cb,
		timeout:   NoTimeout,
		heapIndex: -1,
	}
}

// NewTimer creates an inert pure-timer event.
func (b *Base) NewTimer(cb Callback) *Event {
	return b.NewEvent(-1, 0, cb)
}

// Once schedules cb to run once when fd meets what or timeout elapses. A
// pure timer with NoTimeout fires on the next loop turn.
func (b *Base) Once(fd int, what What, timeout time.Duration, cb Callback) error {
	what &^= EvPersist
	if what&(EvRead|EvWrite|EvSignal) == 0 && timeout < 0 {
		timeout = 0
	}
	return b.NewEvent(fd, what, cb).Add(timeout)
}

// NumEvents returns how many events are currently added.
func (b *Base) NumEvents() int { return len(b.events) }

// Now returns the time according to the base's clock.
func (b *Base) Now() time.Time { return b.clock.Now() }

// Logger returns the base's logger.
func (b *Base) Logger() Logger { return b.logger }

// Trigger queues job to run on the loop goroutine during the next turn,
// waking the loop if it is blocked. It is the only Base method that is safe
// to call from other goroutines. A job that returns an error stops the loop
// and Loop returns that error.
func (b *Base) Trigger(job func() error) error {
	if b.closed.Load() {
		return ErrBaseClosed
	}
	if b.jobs.Push(job) == 1 {
		return b.backend.Wake()
	}
	return nil
}

// Dispatch runs the loop until no events remain, LoopBreak or LoopExit is
// called, or the backend fails.
func (b *Base) Dispatch() error {
	return b.Loop(0)
}

// Loop runs the event loop according to flags. It returns ErrNoEvents when
// there is nothing left to wait for.
func (b *Base) Loop(flags LoopFlags) error {
	if b.closed.Load() {
		return ErrBaseClosed
	}
	if b.running {
		return ErrReentrantLoop
	}
	b.running = true
	defer func() { b.running = false }()

	b.gotBreak, b.gotExit = false, false
	for !b.gotBreak && !b.gotExit {
		if b.closed.Load() {
			return ErrBaseClosed
		}
		if flags&LoopNoExitOnEmpty == 0 && !b.haveEvents() {
			return ErrNoEvents
		}
		if err := b.backend.Wait(b.pollTimeout(flags), b.onReady); err != nil {
			return err
		}

		ran := b.jobs.Len()
		if err := b.jobs.ForEach(); err != nil {
			return err
		}
		b.expireTimers()
		ran += b.processActive()

		if flags&LoopNonblock != 0 || (flags&LoopOnce != 0 && ran > 0) {
			break
		}
	}
	return nil
}

// LoopBreak stops the loop after the running callback returns. Callbacks
// still queued stay queued for the next Loop call.
func (b *Base) LoopBreak() { b.gotBreak = true }

// LoopExit stops the loop after d has elapsed and the callbacks active at
// that point have run. d <= 0 exits at the end of the current turn.
func (b *Base) LoopExit(d time.Duration) error {
	if d <= 0 {
		b.gotExit = true
		return nil
	}
	return b.Once(-1, 0, d, func(int, What) { b.gotExit = true })
}

// GotBreak reports whether the last loop ended through LoopBreak.
func (b *Base) GotBreak() bool { return b.gotBreak }

// GotExit reports whether the last loop ended through LoopExit.
func (b *Base) GotExit() bool { return b.gotExit }

// Close deletes every event and releases the backend.
func (b *Base) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrBaseClosed
	}
	for _, ev := range b.events {
		b.del(ev)
	}
	for b.active.Length() > 0 {
		rec := b.active.Remove().(activation)
		rec.ev.active, rec.ev.res = false, 0
	}
	if n := b.jobs.Discard(); n > 0 {
		b.logger.Printf("event: dropped %d pending jobs on close\n", n)
	}
	return b.backend.Close()
}

func (b *Base) haveEvents() bool {
	return len(b.events) > 0 || b.active.Length() > 0 || b.jobs.Len() > 0
}

func (b *Base) pollTimeout(flags LoopFlags) time.Duration {
	if flags&LoopNonblock != 0 || b.active.Length() > 0 || b.jobs.Len() > 0 {
		return 0
	}
	if len(b.timers) == 0 {
		return NoTimeout
	}
	d := b.timers[0].deadline.Sub(b.clock.Now())
	if d < 0 {
		d = 0
	}
	return d
}

func (b *Base) add(ev *Event, timeout time.Duration) error {
	if b.closed.Load() {
		return ErrBaseClosed
	}
	if !ev.added {
		if err := b.register(ev); err != nil {
			return err
		}
		ev.added = true
		b.events[ev.id] = ev
		b.metrics.setEvents(len(b.events))
	}
	ev.timeout = timeout
	if timeout < 0 {
		if ev.heapIndex >= 0 {
			heap.Remove(&b.timers, ev.heapIndex)
		}
		return nil
	}
	b.schedule(ev)
	return nil
}

// schedule (re)starts ev's timeout window from now.
func (b *Base) schedule(ev *Event) {
	ev.deadline = b.clock.Now().Add(ev.timeout)
	if ev.heapIndex >= 0 {
		heap.Fix(&b.timers, ev.heapIndex)
	} else {
		heap.Push(&b.timers, ev)
	}
}

func (b *Base) register(ev *Event) error {
	switch {
	case ev.what&EvSignal != 0:
		return b.addSignal(ev)
	case ev.what&(EvRead|EvWrite) != 0:
		if ev.fd < 0 {
			return ErrInvalidDescriptor
		}
		entry := b.fds[ev.fd]
		if entry == nil {
			entry = &fdEntry{}
		}
		mask := entry.mask | ev.what&(EvRead|EvWrite)
		if mask != entry.mask {
			if err := b.backend.Control(ev.fd, entry.mask, mask); err != nil {
				return err
			}
			entry.mask = mask
		}
		entry.events = append(entry.events, ev)
		b.fds[ev.fd] = entry
	}
	return nil
}

func (b *Base) unregister(ev *Event) {
	switch {
	case ev.what&EvSignal != 0:
		b.delSignal(ev)
	case ev.what&(EvRead|EvWrite) != 0:
		entry := b.fds[ev.fd]
		if entry == nil {
			return
		}
		var mask What
		kept := entry.events[:0]
		for _, e := range entry.events {
			if e != ev {
				kept = append(kept, e)
				mask |= e.what & (EvRead | EvWrite)
			}
		}
		for i := len(kept); i < len(entry.events); i++ {
			entry.events[i] = nil
		}
		entry.events = kept
		if mask != entry.mask {
			if err := b.backend.Control(ev.fd, entry.mask, mask); err != nil {
				b.logger.Printf("event: failed to change interest of fd:%d from %v to %v: %v\n", ev.fd, entry.mask, mask, err)
			}
			entry.mask = mask
		}
		if len(entry.events) == 0 {
			delete(b.fds, ev.fd)
		}
	}
}

// remove takes ev out of every structure except the active queue.
func (b *Base) remove(ev *Event) {
	if ev.heapIndex >= 0 {
		heap.Remove(&b.timers, ev.heapIndex)
	}
	if !ev.added {
		return
	}
	b.unregister(ev)
	ev.added = false
	delete(b.events, ev.id)
	b.metrics.setEvents(len(b.events))
}

func (b *Base) del(ev *Event) {
	b.remove(ev)
	ev.active, ev.res = false, 0
	ev.gen++
}

func (b *Base) activate(ev *Event, res What) {
	if ev.active {
		ev.res |= res
		return
	}
	ev.active, ev.res = true, res
	b.active.Add(activation{ev: ev, gen: ev.gen})
}

func (b *Base) onReady(fd int, what What) {
	entry := b.fds[fd]
	if entry == nil {
		return
	}
	for _, ev := range entry.events {
		if res := ev.what & what & (EvRead | EvWrite); res != 0 {
			b.activate(ev, res)
		}
	}
}

func (b *Base) expireTimers() {
	now := b.clock.Now()
	for len(b.timers) > 0 && !b.timers[0].deadline.After(now) {
		ev := heap.Pop(&b.timers).(*Event)
		// Readiness in the same turn wins over the timeout.
		if ev.active {
			continue
		}
		b.activate(ev, EvTimeout)
	}
}

// processActive is the single point where callbacks run. An activation
// whose event was deleted after it was queued is dropped here.
func (b *Base) processActive() (ran int) {
	for b.active.Length() > 0 {
		rec := b.active.Remove().(activation)
		ev := rec.ev
		if !ev.active || rec.gen != ev.gen {
			b.metrics.stale()
			continue
		}
		res := ev.res
		ev.active, ev.res = false, 0
		if ev.what&EvPersist == 0 {
			b.remove(ev)
		} else if ev.added && ev.timeout >= 0 {
			b.schedule(ev)
		}
		b.run(ev, res)
		ran++
		if b.gotBreak {
			break
		}
		if max := b.opts.MaxDispatch; max > 0 && ran >= max {
			break
		}
	}
	return
}

func (b *Base) run(ev *Event, res What) {
	cb := ev.cb
	if cb == nil {
		return
	}
	b.metrics.dispatched(res)
	defer func() {
		if r := recover(); r != nil {
			b.metrics.panicked()
			b.logger.Printf("event: callback of event %d on fd:%d panicked: %v\n", ev.id, ev.fd, r)
		}
	}()
	cb(ev.fd, res)
}
