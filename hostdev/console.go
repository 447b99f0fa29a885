package hostdev

import (
	"bufio"
	"os"
	"sync"

	"go.uber.org/zap"

	"archmage/vm"
)

// Console is the demo console device: it services SysCallConsoleWrite by
// reading a (address, size) span out of VM memory and writing it to
// stdout, and SysCallConsoleRead by reading one rune from stdin and
// pushing it back. Adapted from the teacher's consoleIO device, stripped
// of its async non-blocking-channel request queue since this demo host
// drives syscalls synchronously from the interpreter's pause point rather
// than across goroutines.
type Console struct {
	mu     sync.Mutex
	stdin  *bufio.Reader
	stdout *bufio.Writer
	closed bool
}

// NewConsole wires stdin/stdout the way the teacher's RunProgram does.
func NewConsole() *Console {
	return &Console{
		stdin:  bufio.NewReader(os.Stdin),
		stdout: bufio.NewWriter(os.Stdout),
	}
}

// Write pops size, then data address, then an (unused here) output index
// off the VM's operand stack — the reverse of the order a caller pushes
// them, mirroring the reference host's Write handler — and writes the
// addressed span to stdout.
func (c *Console) Write(m *vm.VM) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}

	size, err := m.StackPop()
	if err != nil {
		return err
	}
	addr, err := m.StackPop()
	if err != nil {
		return err
	}
	_, err = m.StackPop() // output index, unused by this demo backend
	if err != nil {
		return err
	}

	span, err := m.DumpMemoryRange(addr, addr+size)
	if err != nil {
		return err
	}
	logger().Debug("console write", zap.Uint64("addr", addr), zap.Uint64("size", size))
	if _, err := c.stdout.Write(span); err != nil {
		return err
	}
	return c.stdout.Flush()
}

// Read blocks for one rune from stdin and pushes it back onto the operand
// stack as a widened u64.
func (c *Console) Read(m *vm.VM) error {
	c.mu.Lock()
	r, _, err := c.stdin.ReadRune()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return m.StackPush(uint64(r))
}

// Close marks the console closed; further writes are silently dropped, the
// way the teacher's devices no-op after a power-down request.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
