// Command n7vm is the process entry point for the assembler and VM:
// assemble a textual listing, run a compiled binary (optionally
// single-stepping), or dump a binary's contents. Grounded on saferwall-pe's
// pedumper.go cobra tree, restructured from the teacher's flat os.Args
// switch in main.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"n7vm/launcher"
	"n7vm/vm"
)

var (
	outPath    string
	debugMode  bool
	heapBytes  int
	fromLaunch bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "n7vm",
		Short: "n7vm assembles and runs the n7 scripting VM's bytecode",
	}

	asmCmd := &cobra.Command{
		Use:   "asm <source>",
		Short: "Assemble a textual instruction listing into a binary program",
		Args:  cobra.ExactArgs(1),
		RunE:  runAsm,
	}
	asmCmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: <source>.n7c)")

	runCmd := &cobra.Command{
		Use:   "run <binary>",
		Short: "Load and execute a compiled binary",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&debugMode, "debug", false, "single-step with a breakpoint REPL")
	runCmd.Flags().IntVar(&heapBytes, "heap", 0, "allocator bucket size in bytes (0 = program's hint or 16MiB)")
	runCmd.Flags().BoolVar(&fromLaunch, "launcher", false, "treat <binary> as a host executable carrying an appended payload")

	dumpCmd := &cobra.Command{
		Use:   "dump <binary>",
		Short: "Print the string table, instructions, and metadata of a compiled binary",
		Args:  cobra.ExactArgs(1),
		RunE:  runDump,
	}

	rootCmd.AddCommand(asmCmd, runCmd, dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAsm(cmd *cobra.Command, args []string) error {
	srcPath := args[0]
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}

	prog, err := vm.Assemble(string(src))
	if err != nil {
		return err
	}

	dest := outPath
	if dest == "" {
		dest = srcPath + ".n7c"
	}
	return os.WriteFile(dest, vm.EncodeProgram(prog), 0o644)
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]

	var prog *vm.Program
	var err error
	if fromLaunch {
		offset, ferr := launcher.Find(path)
		if ferr != nil {
			return ferr
		}
		prog, err = vm.LoadProgramFile(path, offset)
	} else {
		prog, err = vm.LoadProgramFile(path, 0)
	}
	if err != nil {
		return err
	}

	heap := heapBytes
	if heap == 0 {
		heap = prog.HeapSizeHint
	}
	machine := vm.NewVM(heap)
	machine.Load(prog)
	machine.SetDebug(debugMode)

	if debugMode {
		return machine.RunProgramDebugMode()
	}
	return machine.Run()
}

func runDump(cmd *cobra.Command, args []string) error {
	prog, err := vm.LoadProgramFile(args[0], 0)
	if err != nil {
		return err
	}
	vm.DumpProgram(os.Stdout, prog)
	return nil
}
