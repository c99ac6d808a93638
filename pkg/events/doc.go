/*
Package events provides an in-memory event broker used to observe the
hot-reload pipeline from the outside — metrics instrumentation, audit
logging, a future CLI "watch" command — without sitting in its critical
path. The reload coordinator and lifecycle manager publish events as a
side effect of what they do; nothing downstream of the published event
can block or delay a reload.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s: %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventReloadCompleted})

# Design

Publish is non-blocking and best-effort: a subscriber with a full buffer
silently misses events rather than stalling the broadcast loop. This is
deliberate — nothing in the reload path may be slowed down by a slow
consumer of its events.
*/
package events
