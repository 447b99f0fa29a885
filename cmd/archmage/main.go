// Command archmage is a minimal worked example of a host built on top of
// the engine's embedding contract. It is a collaborator, not part of the
// core: it loads a binary image, runs it to completion (or single-steps it
// under an interactive debugger, in the style of the teacher's
// RunProgramDebugMode), and dispatches the small demo SysCall set through
// the hostdev package. When no image path is given it assembles and runs a
// small built-in demo program instead, since this repository has no
// source-text assembler front end.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"archmage/asm"
	"archmage/hostdev"
	"archmage/vm"
)

var (
	imagePath = flag.String("image", "", "path to a binary image to load and run; builds a demo image if empty")
	entryFunc = flag.String("entry", "main", "name of the function to execute")
	debugVM   = flag.Bool("debug", false, "enter single-step debug mode")
	verbose   = flag.Bool("v", false, "enable debug-level logging")
)

func main() {
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger = l
	}
	defer logger.Sync()
	hostdev.SetLogger(logger)

	data, err := loadOrBuildImage(logger)
	if err != nil {
		logger.Error("loading image", zap.Error(err))
		os.Exit(1)
	}

	image, err := vm.LoadImage(data)
	if err != nil {
		logger.Error("parsing image", zap.Error(err))
		os.Exit(1)
	}

	m, err := vm.NewVM(image, defaultHeapSize())
	if err != nil {
		logger.Error("constructing VM", zap.Error(err))
		os.Exit(1)
	}

	mach := hostdev.NewMachine(m)
	defer mach.Close()

	if *debugVM {
		runDebug(m, mach, logger)
		return
	}
	run(m, mach, logger)
}

// defaultHeapSize mirrors the teacher's GOGC-from-environment idiom: an
// environment-driven knob with a plain stdlib default, no config library.
func defaultHeapSize() int {
	const fallback = 1 << 16
	v, ok := os.LookupEnv("ARCHMAGE_HEAP_BYTES")
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func loadOrBuildImage(logger *zap.Logger) ([]byte, error) {
	if *imagePath != "" {
		logger.Debug("reading image file", zap.String("path", *imagePath))
		return os.ReadFile(*imagePath)
	}
	logger.Debug("no -image given, assembling built-in demo")
	return buildDemoImage()
}

// buildDemoImage assembles a tiny program: it pushes 5 then 7 and runs
// I64Sub, which pops the most-recently-pushed value first (lhs=7, rhs=5)
// and leaves lhs-rhs=2 on the stack, then returns.
func buildDemoImage() ([]byte, error) {
	bin := asm.NewOutBin()
	bin.AddFunc("main")

	fn := asm.NewFunc("main", 1)
	fn.Code = append(fn.Code,
		asm.I64Const(5),
		asm.I64Const(7),
		asm.Unary(vm.I64Sub),
		asm.Return(),
	)
	if err := fn.Encode(bin); err != nil {
		return nil, err
	}

	return bin.Write()
}

// run executes the program the way the teacher's RunProgram does: garbage
// collection disabled for the duration of the tight interpreter loop, then
// restored. Because the core opcode table has no instruction that yields
// ExecStatus SysCall (see vm.Step's doc comment), Execute only ever returns
// Continue-turned-Done or an error here; a host that wants guest-initiated
// syscalls layers its own convention (e.g. a reserved Call target the host
// recognizes) on top and invokes mach.Dispatch at that point, the way
// dispatchDemoSyscall below does once execution has paused.
func run(m *vm.VM, mach *hostdev.Machine, logger *zap.Logger) {
	gcPercent := currentGCPercent()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	status, err := m.Execute(*entryFunc)
	if err != nil {
		logger.Error("execution failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("execution finished", zap.Stringer("status", status))

	if *imagePath == "" {
		dispatchDemoSyscall(m, mach, logger)
	}
}

// dispatchDemoSyscall demonstrates the host-layered syscall convention: push
// a console-write request's arguments directly through the host API (the
// way a guest program would via I64Const + Call to a reserved trampoline),
// then hand off to hostdev for dispatch.
func dispatchDemoSyscall(m *vm.VM, mach *hostdev.Machine, logger *zap.Logger) {
	msg := []byte("archmage demo: hello from the host syscall layer\n")
	if err := m.WriteMemory(0, msg); err != nil {
		logger.Warn("demo syscall skipped", zap.Error(err))
		return
	}
	_ = m.StackPush(0) // output index
	_ = m.StackPush(0) // data address
	_ = m.StackPush(uint64(len(msg)))
	_ = m.StackPush(uint64(hostdev.SysCallConsoleWrite))
	if err := mach.Dispatch(); err != nil {
		logger.Error("demo syscall dispatch failed", zap.Error(err))
	}
}

func currentGCPercent() int {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		return 100
	}
	n, err := strconv.Atoi(key)
	if err != nil {
		return 100
	}
	return n
}

// runDebug is a line-based single-step REPL, adapted from the teacher's
// RunProgramDebugMode: step, run-to-completion, or set/clear a breakpoint on
// a code offset.
func runDebug(m *vm.VM, mach *hostdev.Machine, logger *zap.Logger) {
	fmt.Printf("Commands:\n\tn or next: execute next instruction\n\tr or run: run until breakpoint\n\tb or break <offset>: set/clear breakpoint at code offset\n\n")

	printState(m)

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakAt := make(map[int]struct{})
	lastBreakPC := -1

	for {
		line := ""
		if waitForInput {
			fmt.Print("\n->")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else {
			if _, ok := breakAt[m.PC()]; lastBreakPC != m.PC() && ok {
				fmt.Println("breakpoint")
				printState(m)
				waitForInput = true
				lastBreakPC = m.PC()
				continue
			}
		}

		if !waitForInput || line == "n" || line == "next" {
			lastBreakPC = -1

			status, err := m.Step()
			if waitForInput {
				printState(m)
			}
			if err != nil {
				fmt.Println(err)
				return
			}
			if status == vm.SysCall {
				if err := mach.Dispatch(); err != nil {
					fmt.Println(err)
					return
				}
			}
			if status == vm.Done {
				logger.Info("execution finished", zap.Stringer("status", status))
				return
			}
		} else if line == "r" || line == "run" {
			waitForInput = false
		} else if strings.HasPrefix(line, "b") {
			arg := strings.Join(strings.Split(line, " ")[1:], " ")
			offset, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("unknown offset:", err)
				continue
			}
			if _, ok := breakAt[offset]; ok {
				delete(breakAt, offset)
			} else {
				breakAt[offset] = struct{}{}
			}
		}
	}
}

func printState(m *vm.VM) {
	fmt.Printf("->\t\tpc> %d\n", m.PC())
	fmt.Printf("->\t\tcall depth> %d\n", m.CallDepth())
	n := m.Stack().Len()
	top := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		v, _ := m.Stack().Get(uint64(i))
		top = append(top, v)
	}
	fmt.Println("->\t\tstack (top first)>", top)
}
