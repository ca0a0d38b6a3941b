package channel

import (
	"fmt"
	"time"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

type Phase int

const (
	Disconnected Phase = iota
	Connecting
	Connected
	Closing
	ReconnectScheduled
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case ReconnectScheduled:
		return "reconnect-scheduled"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State is the connection state. Attempt counts consecutive reconnect
// attempts since the last successful connect; it is 0 for a manual dial.
type State struct {
	Phase   Phase
	Attempt int
}

func (s State) String() string {
	if s.Attempt > 0 {
		return fmt.Sprintf("%s{attempt=%d}", s.Phase, s.Attempt)
	}
	return s.Phase.String()
}

type EventKind int

const (
	// EventConnect is a caller-initiated Connect.
	EventConnect EventKind = iota
	// EventDialed reports a successful dial.
	EventDialed
	// EventDialFailed reports a failed dial.
	EventDialFailed
	// EventClosed reports the end of an established connection.
	EventClosed
	// EventRetry fires when a scheduled reconnect is due.
	EventRetry
	// EventDisconnect is a caller-initiated Disconnect.
	EventDisconnect
)

type Event struct {
	Kind  EventKind
	Clean bool
}

// RetryPolicy is linear: attempt n waits Interval*n, up to MaxAttempts.
type RetryPolicy struct {
	Interval    time.Duration
	MaxAttempts int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Interval: 3 * time.Second, MaxAttempts: 5}
}

func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.Interval * time.Duration(attempt)
}

// Effect tells the manager what to do after a transition.
type Effect struct {
	Dial       bool
	CloseConn  bool
	CancelDial bool
	Schedule   time.Duration
	Exhausted  bool
	Err        error
}

// Transition is the connection state machine. It has no side effects.
func Transition(s State, ev Event, p RetryPolicy) (State, Effect) {
	switch ev.Kind {
	case EventConnect:
		switch s.Phase {
		case Connected:
			return s, Effect{}
		case Connecting, Closing:
			return s, Effect{Err: domain.ErrConnectionInProgress}
		default:
			return State{Phase: Connecting}, Effect{Dial: true}
		}

	case EventDialed:
		if s.Phase != Connecting {
			// aborted by Disconnect while the dial was in flight
			return s, Effect{CloseConn: true}
		}
		return State{Phase: Connected}, Effect{}

	case EventDialFailed:
		if s.Phase != Connecting {
			return s, Effect{}
		}
		if s.Attempt == 0 {
			return State{Phase: Disconnected}, Effect{Err: domain.ErrConnection}
		}
		return backoff(s.Attempt, p)

	case EventClosed:
		switch s.Phase {
		case Connected:
			if ev.Clean {
				return State{Phase: Disconnected}, Effect{}
			}
			return backoff(0, p)
		case Closing:
			return State{Phase: Disconnected}, Effect{}
		}
		return s, Effect{}

	case EventRetry:
		if s.Phase != ReconnectScheduled {
			return s, Effect{}
		}
		return State{Phase: Connecting, Attempt: s.Attempt}, Effect{Dial: true}

	case EventDisconnect:
		switch s.Phase {
		case Connected:
			return State{Phase: Closing}, Effect{CloseConn: true}
		case Connecting:
			return State{Phase: Disconnected}, Effect{CancelDial: true}
		case ReconnectScheduled, Exhausted:
			return State{Phase: Disconnected}, Effect{}
		}
		return s, Effect{}
	}
	return s, Effect{}
}

// backoff schedules the attempt after the given one, or gives up.
func backoff(attempt int, p RetryPolicy) (State, Effect) {
	if attempt >= p.MaxAttempts {
		return State{Phase: Exhausted, Attempt: attempt}, Effect{Exhausted: true}
	}
	next := attempt + 1
	return State{Phase: ReconnectScheduled, Attempt: next}, Effect{Schedule: p.Delay(next)}
}
