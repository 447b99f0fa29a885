// Package hostdev is a worked example of a host built on top of the VM's
// embedding contract: it is explicitly a collaborator, not part of the
// core (see spec §1's exclusion of syscall dispatch policy). It adapts the
// teacher's device/interrupt idioms — a system-timer goroutine reporting
// back over a Fired channel, a console device guarding stdin/stdout with a
// mutex — into backends for the small demo SysCall set below.
package hostdev

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"archmage/vm"
)

// SysCall identifies one of the handful of host services a guest program
// can request. The VM core has no opcode that triggers a SysCall/Breakpoint
// status transition (see vm.Step's doc comment); this enum and Dispatch
// exist purely at the host layer, invoked by the embedder's own policy for
// when a guest program wants to talk to the outside world.
type SysCall uint64

const (
	SysCallNone SysCall = iota
	SysCallConsoleWrite
	SysCallConsoleRead
	SysCallTimerStart
)

func (s SysCall) String() string {
	switch s {
	case SysCallNone:
		return "none"
	case SysCallConsoleWrite:
		return "console-write"
	case SysCallConsoleRead:
		return "console-read"
	case SysCallTimerStart:
		return "timer-start"
	default:
		return "?syscall?"
	}
}

var (
	pkgLogger *zap.Logger
	logOnce   sync.Once
)

// logger returns the package's logger instance. It uses a no-op logger by
// default, the same pattern the richer stack-shaped repo in the retrieval
// pack uses for its linker package.
func logger() *zap.Logger {
	logOnce.Do(func() {
		if pkgLogger == nil {
			pkgLogger = zap.NewNop()
		}
	})
	return pkgLogger
}

// SetLogger configures the package's logger. Call it before any device
// operations.
func SetLogger(l *zap.Logger) {
	pkgLogger = l
}

// Machine pairs a paused *vm.VM with the demo device backends it can yield
// to: a console and a timer. Dispatch is called by the embedder whenever
// its own policy decides the guest wants host attention (see SysCall).
type Machine struct {
	VM      *vm.VM
	Console *Console
	Timer   *Timer
}

// NewMachine wires a fresh console and timer device to m.
func NewMachine(m *vm.VM) *Machine {
	return &Machine{
		VM:      m,
		Console: NewConsole(),
		Timer:   NewTimer(),
	}
}

// Dispatch pops a syscall ID off the VM's operand stack and routes to the
// matching device backend, following the argument-popping convention of
// the reference host's syscall_handler: read the syscall id, then each
// argument in turn, from the top of the stack down.
func (mach *Machine) Dispatch() error {
	id, err := mach.VM.StackPop()
	if err != nil {
		return fmt.Errorf("hostdev: reading syscall id: %w", err)
	}
	call := SysCall(id)
	logger().Debug("dispatching syscall", zap.Stringer("syscall", call))

	switch call {
	case SysCallNone:
		return nil
	case SysCallConsoleWrite:
		return mach.Console.Write(mach.VM)
	case SysCallConsoleRead:
		return mach.Console.Read(mach.VM)
	case SysCallTimerStart:
		return mach.Timer.Start(mach.VM)
	default:
		return fmt.Errorf("hostdev: unknown syscall id %d", id)
	}
}

// Close shuts down every device backend's goroutine. Call it once the
// machine is done running.
func (mach *Machine) Close() {
	mach.Console.Close()
	mach.Timer.Close()
}
