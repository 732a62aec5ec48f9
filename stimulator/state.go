package stimulator

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/stimlink/go-magstim/protocol"
)

// State is the session's view of the device lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateDisarmed
	StateArming
	StateArmedNotReady
	StateArmedReady
	StateFiring
	StateDisarming
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateDisarmed:
		return "Disarmed"
	case StateArming:
		return "Arming"
	case StateArmedNotReady:
		return "ArmedNotReady"
	case StateArmedReady:
		return "ArmedReady"
	case StateFiring:
		return "Firing"
	case StateDisarming:
		return "Disarming"
	case StateFaulted:
		return "Faulted"
	default:
		return "Unknown"
	}
}

// armed reports whether the discharge circuitry is (or may be) charged in
// this state. Drives the keep-alive cadence.
func (s State) armed() bool {
	switch s {
	case StateArming, StateArmedNotReady, StateArmedReady, StateFiring:
		return true
	default:
		return false
	}
}

// stateMachine tracks the lifecycle state. Caller-driven transitions are
// validated; device-reported status flags move the machine through observe,
// which is allowed to promote, demote or fault the state but never to leave
// Faulted; only an explicit re-arm does that.
type stateMachine struct {
	mu  sync.RWMutex
	cur State
	log zerolog.Logger
}

func newStateMachine(log zerolog.Logger) *stateMachine {
	return &stateMachine{cur: StateDisconnected, log: log}
}

func (m *stateMachine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// transitionTo performs a caller-driven transition, failing if it is not
// legal from the current state.
func (m *stateMachine) transitionTo(next State, op string) error {
	m.mu.Lock()
	prev := m.cur
	if !validTransition(prev, next) {
		m.mu.Unlock()
		return &InvalidStateError{Op: op, State: prev}
	}
	m.cur = next
	m.mu.Unlock()

	m.logTransition(prev, next, op)
	return nil
}

// forceTo moves to next unconditionally. Used for disconnects and for
// rolling back an optimistic transition after a failed exchange.
func (m *stateMachine) forceTo(next State, reason string) {
	m.mu.Lock()
	prev := m.cur
	m.cur = next
	m.mu.Unlock()

	if prev != next {
		m.logTransition(prev, next, reason)
	}
}

// observe folds a device-reported status byte into the state. Any fault flag
// forces Faulted; readiness promotion and demotion follow the armed/ready
// flags; standby confirms a disarm.
func (m *stateMachine) observe(flags protocol.StatusFlags) {
	m.mu.Lock()
	prev := m.cur
	next := prev

	switch {
	case prev == StateDisconnected:
		// Not yet connected; status observed during the connect handshake
		// does not drive the machine.
	case flags.Fault():
		next = StateFaulted
	case prev == StateFaulted:
		// Sticky until a re-arm transitions out explicitly.
	case flags.Ready:
		next = StateArmedReady
	case flags.Armed:
		next = StateArmedNotReady
	case flags.Standby:
		if prev != StateDisarmed {
			next = StateDisarmed
		}
	}

	m.cur = next
	m.mu.Unlock()

	if next != prev {
		m.logTransition(prev, next, "status flags")
	}
}

func (m *stateMachine) logTransition(from, to State, reason string) {
	m.log.Debug().
		Stringer("from", from).
		Stringer("to", to).
		Str("reason", reason).
		Msg("state transition")
}

func validTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateDisarmed
	case StateDisarmed:
		return to == StateArming || to == StateDisconnected
	case StateArming:
		return to == StateArmedNotReady || to == StateArmedReady ||
			to == StateDisarming || to == StateFaulted || to == StateDisconnected
	case StateArmedNotReady:
		return to == StateArmedReady || to == StateDisarming ||
			to == StateFaulted || to == StateDisconnected || to == StateDisarmed
	case StateArmedReady:
		return to == StateFiring || to == StateArmedNotReady ||
			to == StateDisarming || to == StateFaulted || to == StateDisconnected || to == StateDisarmed
	case StateFiring:
		return to == StateArmedReady || to == StateArmedNotReady ||
			to == StateDisarming || to == StateFaulted || to == StateDisconnected
	case StateDisarming:
		return to == StateDisarmed || to == StateFaulted || to == StateDisconnected
	case StateFaulted:
		return to == StateArming || to == StateDisarming || to == StateDisconnected
	default:
		return false
	}
}
