package conversation

import (
	"sync"
	"time"
)

// DefaultSettleDelay is the time spent Transitioning before a mode change settles
const DefaultSettleDelay = 300 * time.Millisecond

// ModeState is the observable state of a ModeController
type ModeState struct {
	Mode            Mode   `json:"mode"`
	ActiveServiceID string `json:"active_service_id,omitempty"`
}

// ModeController tracks the conversation mode. StartService and EndService pass through
// ModeTransitioning for the settle delay. The active service id is set when a start begins
// and cleared when an end settles, so it is never missing while a start is in progress.
type ModeController struct {
	sched Scheduler
	delay time.Duration

	mu       sync.Mutex
	state    ModeState
	pending  Timer
	gen      uint64
	onChange func(ModeState)
}

// NewModeController returns a ModeController in ModeFreeForm
func NewModeController(sched Scheduler, delay time.Duration) *ModeController {
	if sched == nil {
		sched = RealScheduler{}
	}
	return &ModeController{
		sched: sched,
		delay: delay,
		state: ModeState{Mode: ModeFreeForm},
	}
}

// OnChange sets f to be called with every new state. f is called with the controller
// locked and must not call back into it.
func (m *ModeController) OnChange(f func(ModeState)) {
	m.mu.Lock()
	m.onChange = f
	m.mu.Unlock()
}

// State returns the current state
func (m *ModeController) State() ModeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StartService moves to ModeTransitioning with id active, then to ModeGuidedService after the settle delay
func (m *ModeController) StartService(id string) {
	m.transition(ModeState{Mode: ModeTransitioning, ActiveServiceID: id}, ModeState{Mode: ModeGuidedService, ActiveServiceID: id})
}

// EndService moves to ModeTransitioning keeping the active id, then to ModeFreeForm with no active id after the settle delay
func (m *ModeController) EndService() {
	m.mu.Lock()
	id := m.state.ActiveServiceID
	m.mu.Unlock()

	m.transition(ModeState{Mode: ModeTransitioning, ActiveServiceID: id}, ModeState{Mode: ModeFreeForm})
}

// Stop cancels a pending transition. The current state is kept.
func (m *ModeController) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelPending()
}

func (m *ModeController) transition(now, settled ModeState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelPending()
	m.set(now)

	gen := m.gen
	m.pending = m.sched.AfterFunc(m.delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		//superseded by a newer transition or Stop
		if m.gen != gen {
			return
		}
		m.pending = nil
		m.set(settled)
	})
}

func (m *ModeController) cancelPending() {
	m.gen++
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

func (m *ModeController) set(s ModeState) {
	if s == m.state {
		return
	}
	m.state = s
	if m.onChange != nil {
		m.onChange(s)
	}
}
