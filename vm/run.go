package vm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// run.go adapts the teacher's interactive stepping driver
// (RunProgramDebugMode/RunProgram) to this VM's step-based Run loop: a
// breakpoint-aware REPL for "run --debug", and a plain run-to-completion
// path for ordinary execution.

// RunProgramDebugMode drives the VM one instruction at a time from an
// interactive prompt, supporting "n"/"next", "r"/"run", and "b <line>" to
// toggle a line breakpoint.
func (vm *VM) RunProgramDebugMode() error {
	fmt.Println("Commands:\n\tn or next: execute next instruction\n\tr or run: run program\n\tb <line>: toggle breakpoint on line")

	reader := bufio.NewReader(os.Stdin)
	waitForInput := true
	breakAtLines := make(map[int]struct{})
	lastBreakLine := -1

	for vm.running {
		line := ""
		if waitForInput {
			fmt.Print("\n-> ")
			line, _ = reader.ReadString('\n')
			line = strings.ToLower(strings.TrimSpace(line))
		} else {
			_, atLine := lineAtPC(vm, breakAtLines)
			if atLine && lastBreakLine != vm.pc {
				fmt.Println("breakpoint")
				waitForInput = true
				lastBreakLine = vm.pc
				continue
			}
		}

		switch {
		case !waitForInput || line == "n" || line == "next":
			lastBreakLine = -1
			if err := vm.step(); err != nil {
				return &RuntimeError{Cause: err, Trace: vm.stackTrace()}
			}
		case line == "r" || line == "run":
			waitForInput = false
		case strings.HasPrefix(line, "b"):
			arg := strings.TrimSpace(strings.TrimPrefix(line, "b"))
			n, err := strconv.Atoi(arg)
			if err != nil {
				fmt.Println("unknown line number:", arg)
				continue
			}
			if _, ok := breakAtLines[n]; ok {
				delete(breakAtLines, n)
			} else {
				breakAtLines[n] = struct{}{}
			}
		}
	}
	return nil
}

func lineAtPC(vm *VM, breakpoints map[int]struct{}) (int, bool) {
	_, line := vm.currentSourcePos()
	_, ok := breakpoints[line]
	return line, ok
}
