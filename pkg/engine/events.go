package engine

import (
	"time"

	"github.com/marmos91/agentfs/pkg/metadata"
)

// Subscribe registers a sink for structural events. Sinks are called
// synchronously, in subscription order, after the producing operation has
// released its locks.
func (e *Engine) Subscribe(sink metadata.EventSink) (id metadata.SubscriptionID, err error) {
	defer e.observe("Subscribe", time.Now(), &err)

	if !e.opts.TrackEvents {
		return 0, metadata.NewError(metadata.ErrNotSupported, "", "event tracking is disabled")
	}
	if sink == nil {
		return 0, metadata.NewError(metadata.ErrInvalidArgument, "", "nil event sink")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, errClosed
	}
	e.nextSub++
	e.subs = append(e.subs, subscription{id: e.nextSub, sink: sink})
	return e.nextSub, nil
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(id metadata.SubscriptionID) (err error) {
	defer e.observe("Unsubscribe", time.Now(), &err)

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, sub := range e.subs {
		if sub.id == id {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return nil
		}
	}
	return metadata.NewError(metadata.ErrNotFound, "", "subscription %d not found", id)
}

// emit delivers events to every subscriber. Caller holds no locks.
func (e *Engine) emit(events []metadata.Event) {
	if len(events) == 0 {
		return
	}

	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()

	for _, ev := range events {
		for _, sub := range subs {
			sub.sink.OnEvent(ev)
		}
	}
}

// registryEvent builds a snapshot, branch or binding event.
func (e *Engine) registryEvent(kind metadata.EventKind) metadata.Event {
	return metadata.Event{Kind: kind, Time: e.opts.Clock.Now()}
}
