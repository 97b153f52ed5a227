// Package pipe implements the typed synchronous rendezvous primitives
// built on top of internal/hub: Pipe/Sender/Recver, Pair, Queue, Dealer,
// Router, Broadcast, Event, Gate and Value, with a closed/abandoned/
// timeout error taxonomy instead of exceptions.
package pipe

// Item is the value-or-error sum type that travels through a Pipe. A send
// of a plain value produces an Item with Err nil; a pipeline transform
// (see Recver.Map) that wants to fail the item without closing the pipe
// wraps its error with hub.NewReraise so it is re-raised on the recv side.
type Item struct {
	Value any
	Err   error
}
