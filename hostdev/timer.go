package hostdev

import (
	"math"
	"sync/atomic"
	"time"

	"archmage/vm"
)

// timerRequest carries a new duration over to the timer goroutine, the way
// the teacher's systemTimer overwrites its running timer in place.
type timerRequest struct {
	duration time.Duration
}

// Timer is the demo timer device: SysCallTimerStart pops a microsecond
// duration off the operand stack and (re)arms a background timer. Adapted
// from the teacher's systemTimer goroutine, with the CPU interrupt bus
// replaced by a plain channel the embedder can select on.
type Timer struct {
	timerChan chan timerRequest
	Fired     chan struct{}
	closed    atomic.Bool
}

// NewTimer starts the timer goroutine armed with an effectively-infinite
// duration, exactly as the teacher's newSystemTimer does before any start
// request arrives.
func NewTimer() *Timer {
	t := &Timer{
		timerChan: make(chan timerRequest, 1),
		Fired:     make(chan struct{}, 1),
	}

	go func() {
		clock := time.NewTimer(time.Duration(math.MaxInt64))
		for {
			if t.closed.Load() {
				clock.Stop()
				return
			}
			select {
			case <-clock.C:
				select {
				case t.Fired <- struct{}{}:
				default:
				}
			case req := <-t.timerChan:
				clock.Stop()
				clock = time.NewTimer(req.duration)
			}
		}
	}()

	return t
}

// Start pops a microsecond duration off the VM's operand stack and arms the
// timer with it, overwriting whatever was previously pending.
func (t *Timer) Start(m *vm.VM) error {
	micros, err := m.StackPop()
	if err != nil {
		return err
	}
	if t.closed.Load() {
		return nil
	}
	t.timerChan <- timerRequest{duration: time.Duration(micros) * time.Microsecond}
	return nil
}

// Close stops the timer goroutine. Further Start calls still pop their
// duration but are silently dropped.
func (t *Timer) Close() {
	t.closed.Store(true)
	t.timerChan <- timerRequest{duration: 1}
}
