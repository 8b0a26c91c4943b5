package ecs

type SystemTrigger int

const (
	OnStartup SystemTrigger = iota
	OnPreUpdate
	OnUpdate
	OnEndOfTick
)

type SystemFunc func(ctx SystemContext)

type SystemContext struct {
	*World
	Dt       float64
	Commands *CommandBuffer
}

// Scheduler runs systems one after another on the calling goroutine, grouped
// by trigger. Commands queued by a system are applied once its trigger group
// has finished.
type Scheduler struct {
	systems map[SystemTrigger][]SystemFunc
	started bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{systems: make(map[SystemTrigger][]SystemFunc)}
}

func (s *Scheduler) Add(trigger SystemTrigger, sys SystemFunc) {
	s.systems[trigger] = append(s.systems[trigger], sys)
}

// Tick runs the startup group on the first call, then the pre-update,
// update and end-of-tick groups.
func (s *Scheduler) Tick(w *World, dt float64) error {
	if !s.started {
		s.started = true
		if err := s.run(w, OnStartup, 0); err != nil {
			return err
		}
	}
	for _, trigger := range []SystemTrigger{OnPreUpdate, OnUpdate, OnEndOfTick} {
		if err := s.run(w, trigger, dt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) run(w *World, trigger SystemTrigger, dt float64) error {
	for _, sys := range s.systems[trigger] {
		sys(SystemContext{World: w, Dt: dt, Commands: w.commands})
	}
	return w.commands.apply(w)
}

// CommandBuffer defers structural changes until the running trigger group
// has finished, so systems can destroy entities while iterating queries.
type CommandBuffer struct {
	commands []func(w *World) error
}

func (cb *CommandBuffer) Destroy(e Entity) {
	cb.commands = append(cb.commands, func(w *World) error {
		if !w.Alive(e) {
			return nil
		}
		return w.Destroy(e)
	})
}

func (cb *CommandBuffer) Remove(e Entity, v any) {
	cb.commands = append(cb.commands, func(w *World) error {
		typ := typeOfComponent(v)
		if !w.HasRaw(e, typ) {
			return nil
		}
		return w.RemoveRaw(e, typ)
	})
}

// Do queues an arbitrary world mutation.
func (cb *CommandBuffer) Do(fn func(w *World) error) {
	cb.commands = append(cb.commands, fn)
}

func (cb *CommandBuffer) Len() int {
	return len(cb.commands)
}

func (cb *CommandBuffer) apply(w *World) error {
	for len(cb.commands) > 0 {
		pending := cb.commands
		cb.commands = nil
		for _, cmd := range pending {
			if err := cmd(w); err != nil {
				return err
			}
		}
	}
	return nil
}
