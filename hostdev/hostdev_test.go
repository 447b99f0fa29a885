package hostdev_test

import (
	"io"
	"os"
	"testing"
	"time"

	"archmage/asm"
	"archmage/hostdev"
	"archmage/vm"
)

func newTestVM(t *testing.T) *vm.VM {
	t.Helper()
	bin := asm.NewOutBin()
	bin.AddFunc("main")
	fn := asm.NewFunc("main", 0)
	fn.Code = append(fn.Code, asm.Return())
	if err := fn.Encode(bin); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	data, err := bin.Write()
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	img, err := vm.LoadImage(data)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	m, err := vm.NewVM(img, 4096)
	if err != nil {
		t.Fatalf("new vm failed: %v", err)
	}
	return m
}

func TestMachineDispatchNone(t *testing.T) {
	m := newTestVM(t)
	mach := hostdev.NewMachine(m)
	defer mach.Close()

	if err := m.StackPush(uint64(hostdev.SysCallNone)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := mach.Dispatch(); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
}

func TestMachineDispatchUnknownSyscall(t *testing.T) {
	m := newTestVM(t)
	mach := hostdev.NewMachine(m)
	defer mach.Close()

	if err := m.StackPush(999); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if err := mach.Dispatch(); err == nil {
		t.Fatalf("expected error for unknown syscall id")
	}
}

func TestConsoleWrite(t *testing.T) {
	m := newTestVM(t)
	mach := hostdev.NewMachine(m)
	defer mach.Close()

	msg := []byte("hello")
	if err := m.WriteMemory(0, msg); err != nil {
		t.Fatalf("write memory failed: %v", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe failed: %v", err)
	}
	origStdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = origStdout }()
	mach.Console = hostdev.NewConsole()

	_ = m.StackPush(0) // output index
	_ = m.StackPush(0) // data address
	_ = m.StackPush(uint64(len(msg)))
	_ = m.StackPush(uint64(hostdev.SysCallConsoleWrite))

	if err := mach.Dispatch(); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	w.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading pipe: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestTimerFires(t *testing.T) {
	timer := hostdev.NewTimer()
	defer timer.Close()

	m := newTestVM(t)
	if err := m.StackPush(1); err != nil { // 1 microsecond
		t.Fatalf("push failed: %v", err)
	}
	if err := timer.Start(m); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	select {
	case <-timer.Fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire in time")
	}
}
