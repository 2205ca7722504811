package call

import (
	"sync"
	"time"
)

// Watchdog watches for caller silence. After nudgeAfter of no activity it
// fires onNudge (the session repeats the assistant's last utterance); if the
// caller still has not spoken terminateAfter later it fires onTerminate (the
// session says goodbye and winds the call down).
//
// Assistant activity (audio being played) re-arms the nudge timer but does
// not clear a pending termination: only the caller speaking does that.
// Callbacks run on timer goroutines.
type Watchdog struct {
	nudgeAfter     time.Duration
	terminateAfter time.Duration
	onNudge        func()
	onTerminate    func()

	mu        sync.Mutex
	nudge     *time.Timer
	terminate *time.Timer
	waiting   bool
	stopped   bool
}

// NewWatchdog builds a stopped Watchdog; call Activity to arm it.
func NewWatchdog(nudgeAfter, terminateAfter time.Duration, onNudge, onTerminate func()) *Watchdog {
	return &Watchdog{
		nudgeAfter:     nudgeAfter,
		terminateAfter: terminateAfter,
		onNudge:        onNudge,
		onTerminate:    onTerminate,
	}
}

// Activity records line activity. It re-arms the nudge timer unless the
// watchdog is already waiting for the caller to answer a nudge.
func (w *Watchdog) Activity() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.waiting {
		return
	}
	w.armNudgeLocked()
}

// CallerSpoke records that the caller is talking. It clears any pending
// termination and re-arms the nudge timer.
func (w *Watchdog) CallerSpoke() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.waiting = false
	if w.terminate != nil {
		w.terminate.Stop()
		w.terminate = nil
	}
	w.armNudgeLocked()
}

// NudgeSkipped unwinds a fired nudge that the session had nothing to say
// for: the pending termination is cancelled and the nudge timer re-armed,
// so silence never escalates past a stage the caller actually heard.
func (w *Watchdog) NudgeSkipped() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || !w.waiting {
		return
	}
	w.waiting = false
	if w.terminate != nil {
		w.terminate.Stop()
		w.terminate = nil
	}
	w.armNudgeLocked()
}

// Stop disarms all timers. The watchdog cannot be re-armed afterwards.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.nudge != nil {
		w.nudge.Stop()
		w.nudge = nil
	}
	if w.terminate != nil {
		w.terminate.Stop()
		w.terminate = nil
	}
}

func (w *Watchdog) armNudgeLocked() {
	if w.nudge != nil {
		w.nudge.Stop()
	}
	w.nudge = time.AfterFunc(w.nudgeAfter, w.fireNudge)
}

func (w *Watchdog) fireNudge() {
	w.mu.Lock()
	if w.stopped || w.waiting {
		w.mu.Unlock()
		return
	}
	w.waiting = true
	w.terminate = time.AfterFunc(w.terminateAfter, w.fireTerminate)
	w.mu.Unlock()

	w.onNudge()
}

func (w *Watchdog) fireTerminate() {
	w.mu.Lock()
	if w.stopped || !w.waiting {
		w.mu.Unlock()
		return
	}
	w.waiting = false
	w.terminate = nil
	w.mu.Unlock()

	w.onTerminate()
}
