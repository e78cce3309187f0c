package event

import (
	"os"
	"os/signal"
	"syscall"
)

// signalEntry fans one OS signal out to the events watching it. A watcher
// goroutine receives from the os/signal channel and hands each delivery to
// the loop with Trigger.
type signalEntry struct {
	events []*Event
	ch     chan os.Signal
	done   chan struct{}
}

func (b *Base) addSignal(ev *Event) error {
	if ev.fd <= 0 {
		return ErrInvalidDescriptor
	}
	entry := b.signals[ev.fd]
	if entry == nil {
		entry = &signalEntry{
			ch:   make(chan os.Signal, 8),
			done: make(chan struct{}),
		}
		b.signals[ev.fd] = entry
		signal.Notify(entry.ch, syscall.Signal(ev.fd))
		go b.watchSignal(ev.fd, entry)
	}
	entry.events = append(entry.events, ev)
	return nil
}

func (b *Base) delSignal(ev *Event) {
	entry := b.signals[ev.fd]
	if entry == nil {
		return
	}
	kept := entry.events[:0]
	for _, e := range entry.events {
		if e != ev {
			kept = append(kept, e)
		}
	}
	entry.events = kept
	if len(kept) == 0 {
		signal.Stop(entry.ch)
		close(entry.done)
		delete(b.signals, ev.fd)
	}
}

func (b *Base) watchSignal(signum int, entry *signalEntry) {
	for {
		select {
		case <-entry.ch:
			err := b.Trigger(func() error {
				b.deliverSignal(signum, entry)
				return nil
			})
			if err != nil {
				return
			}
		case <-entry.done:
			return
		}
	}
}

func (b *Base) deliverSignal(signum int, entry *signalEntry) {
	if b.signals[signum] != entry {
		return
	}
	for _, ev := range entry.events {
		b.activate(ev, EvSignal)
	}
}
