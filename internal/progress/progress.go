package progress

import "sync"

// State is the live counter of a reconciliation run.
type State struct {
	Total      int  `json:"total"`
	Success    int  `json:"success"`
	Failed     int  `json:"failed"`
	Processing bool `json:"processing"`
}

// Done reports whether every event of the run has an outcome.
func (s State) Done() bool {
	return s.Success+s.Failed == s.Total
}

// Reporter publishes State updates of concurrent runs to subscribers. Every
// run is identified by a key (the tour code) and counted separately.
// It is safe for concurrent use.
type Reporter struct {
	// deliverMu orders deliveries; mu guards runs and listeners.
	deliverMu sync.Mutex
	mu        sync.Mutex
	runs      map[string]State
	nextID    int
	listeners map[int]func(run string, s State)
}

// NewReporter creates an idle Reporter.
func NewReporter() *Reporter {
	return &Reporter{
		runs:      make(map[string]State),
		listeners: make(map[int]func(string, State)),
	}
}

// Start resets the counters of run for total events.
func (r *Reporter) Start(run string, total int) {
	r.update(run, func(s *State, _ bool) bool {
		*s = State{Total: total, Processing: true}
		return true
	})
}

// Record counts the outcome of one event attempt of run. Outcomes of runs that
// were never started, and outcomes beyond Total, are ignored so that
// Success+Failed never exceeds Total.
func (r *Reporter) Record(run string, ok bool) {
	r.update(run, func(s *State, started bool) bool {
		if !started || s.Success+s.Failed >= s.Total {
			return false
		}
		if ok {
			s.Success++
		} else {
			s.Failed++
		}
		return true
	})
}

// Finish marks run as complete. The final state stays available to Snapshot.
func (r *Reporter) Finish(run string) {
	r.update(run, func(s *State, started bool) bool {
		if !started {
			return false
		}
		s.Processing = false
		return true
	})
}

// Snapshot returns the current state of run, the zero State if it never started.
func (r *Reporter) Snapshot(run string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[run]
}

// Active lists the runs still processing.
func (r *Reporter) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []string
	for run, state := range r.runs {
		if state.Processing {
			active = append(active, run)
		}
	}
	return active
}

// Subscribe registers handler for every subsequent update of any run.
// Returns an unsubscribe function.
func (r *Reporter) Subscribe(handler func(run string, s State)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = handler
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// update applies fn to the state of run and, when fn reports a change,
// delivers the result. Listeners must not call back into Start, Record or Finish.
func (r *Reporter) update(run string, fn func(s *State, started bool) bool) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	state, started := r.runs[run]
	if !fn(&state, started) {
		r.mu.Unlock()
		return
	}
	r.runs[run] = state
	handlers := make([]func(string, State), 0, len(r.listeners))
	for id := 0; id < r.nextID; id++ {
		if h, ok := r.listeners[id]; ok {
			handlers = append(handlers, h)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(run, state)
	}
}
