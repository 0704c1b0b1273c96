// Package verify implements the time-bounded inbox polling loop that resolves
// whether a one-time code has arrived for a username, and the extractor that
// pulls the code out of unstructured message text.
package verify

import "fmt"

// Status classifies how a polling session resolved.
type Status int

const (
	// StatusFound means a qualifying message arrived and a code was extracted.
	StatusFound Status = iota
	// StatusExtractionFailed means a qualifying message arrived but no code
	// could be parsed from its body.
	StatusExtractionFailed
	// StatusTimedOut means the deadline elapsed with no qualifying message.
	StatusTimedOut
	// StatusTransportError means a mailbox query failed; the loop terminates
	// immediately rather than retrying.
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusExtractionFailed:
		return "extraction_failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusTransportError:
		return "transport_error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the terminal result of one polling session. Code is set only for
// StatusFound; Err carries the cause only for StatusTransportError.
type Outcome struct {
	Status Status
	Code   string
	Err    error
}
