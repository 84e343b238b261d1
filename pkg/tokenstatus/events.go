package tokenstatus

import "time"

// Kind identifies a token lifecycle event.
type Kind int

const (
	ValidationStart Kind = iota + 1
	ValidationSuccess
	ValidationFailure
	RefreshStart
	RefreshSuccess
	RefreshFailure
)

func (k Kind) String() string {
	switch k {
	case ValidationStart:
		return "validation_start"
	case ValidationSuccess:
		return "validation_success"
	case ValidationFailure:
		return "validation_failure"
	case RefreshStart:
		return "refresh_start"
	case RefreshSuccess:
		return "refresh_success"
	case RefreshFailure:
		return "refresh_failure"
	default:
		return "unknown"
	}
}

// Event is published by whoever validates or refreshes tokens.
type Event struct {
	Kind Kind
	At   time.Time // zero means "now" for the receiver
	Err  error     // set on failures
}

// Publisher receives lifecycle events. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

// OrDiscard returns p, or Discard when p is nil.
func OrDiscard(p Publisher) Publisher {
	if p == nil {
		return Discard
	}
	return p
}
