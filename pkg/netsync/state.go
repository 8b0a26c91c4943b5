package netsync

import (
	"fmt"
	"slices"
	"sync"
)

type Role uint8

const (
	RoleServer Role = iota
	RoleClient
	RoleHost
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	case RoleHost:
		return "host"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

type Phase uint8

const (
	PhaseStopped Phase = iota
	PhaseStarting
	PhaseStarted
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhaseStarting:
		return "starting"
	case PhaseStarted:
		return "started"
	case PhaseStopping:
		return "stopping"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

type StateChange struct {
	Role Role
	From Phase
	To   Phase
}

// machine guards session start and stop. Calls that arrive while another
// transition is in flight fail instead of queueing.
type machine struct {
	mu    sync.Mutex
	role  Role
	phase Phase

	subscribers []func(StateChange)
}

func (m *machine) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *machine) Running() bool {
	return m.Phase() == PhaseStarted
}

// OnStateChanged registers fn for every phase transition. fn runs on the
// goroutine that caused the transition.
func (m *machine) OnStateChanged(fn func(StateChange)) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, fn)
	m.mu.Unlock()
}

func (m *machine) beginStart() error {
	return m.transition(PhaseStarting, func(from Phase) error {
		if from != PhaseStopped {
			return ErrAlreadyStarted
		}
		return nil
	})
}

func (m *machine) beginStop() error {
	return m.transition(PhaseStopping, func(from Phase) error {
		if from == PhaseStopping || from == PhaseStopped {
			return ErrNotRunning
		}
		return nil
	})
}

func (m *machine) set(to Phase) {
	m.transition(to, nil)
}

// transition checks and moves under one lock, then notifies outside it.
func (m *machine) transition(to Phase, check func(from Phase) error) error {
	m.mu.Lock()
	if check != nil {
		if err := check(m.phase); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	change := StateChange{Role: m.role, From: m.phase, To: to}
	m.phase = to
	subscribers := slices.Clone(m.subscribers)
	m.mu.Unlock()

	if change.From != change.To {
		for _, fn := range subscribers {
			fn(change)
		}
	}
	return nil
}
