// Command gscript is the interpreter's CLI front-end: a cobra
// command tree (run, compile, dump, gc-stats, repl) with zerolog
// tracing flags and a readline-backed interactive mode.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"gscript/internal/chunkio"
	"gscript/internal/lexer"
	"gscript/internal/stdlib"
	"gscript/internal/value"
	"gscript/internal/vm"
)

var (
	traceGC   bool
	traceCode bool
	gcPause   int
	gcStepMul int
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("gscript: %v", err))
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gscript",
		Short: "Run and inspect gscript chunks",
	}
	root.PersistentFlags().BoolVar(&traceGC, "trace-gc", false, "log collector phase transitions")
	root.PersistentFlags().BoolVar(&traceCode, "trace-code", false, "log compiled instructions before running")
	root.PersistentFlags().IntVar(&gcPause, "gcpause", 0, "override GCPause percent (0 keeps the default)")
	root.PersistentFlags().IntVar(&gcStepMul, "gcstepmul", 0, "override GCStepMul percent (0 keeps the default)")

	root.AddCommand(runCmd(), compileCmd(), dumpCmd(), gcStatsCmd(), replCmd())
	return root
}

func newLogger(trace bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if trace {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func newHost() (*vm.Host, *vm.VM) {
	log := newLogger(traceGC)
	host := vm.NewHost(log)
	if gcPause > 0 {
		host.Heap.SetPause(gcPause)
	}
	if gcStepMul > 0 {
		host.Heap.SetStepMul(gcStepMul)
	}
	m := vm.New(host, log)
	stdlib.Install(host)
	return host, m
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [file]",
		Short: "Compile and run a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			host, m := newHost()
			proto, err := lexer.Compile(args[0], string(src), host.Strs)
			if err != nil {
				return err
			}
			if traceCode {
				printCode(proto)
			}
			results, err := m.Run(proto)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Println(displayValue(r))
			}
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a source file to a .gsc chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			strs := value.NewStrings(0x9e3779b9)
			proto, err := lexer.Compile(args[0], string(src), strs)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".gsc"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			return chunkio.Dump(f, proto)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output chunk path (default: <file>.gsc)")
	return cmd
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump [file.gsc]",
		Short: "Disassemble a compiled chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			proto, err := chunkio.Load(f)
			if err != nil {
				return err
			}
			printCode(proto)
			return nil
		},
	}
}

func gcStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc-stats [file]",
		Short: "Run a file and report collector statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			host, m := newHost()
			proto, err := lexer.Compile(args[0], string(src), host.Strs)
			if err != nil {
				return err
			}
			if _, err := m.Run(proto); err != nil {
				return err
			}
			host.FullGC(false)
			fmt.Printf("state:        %s\n", host.Heap.State())
			fmt.Printf("bytes in use: %d\n", host.Heap.BytesInUse())
			fmt.Printf("debt:         %d\n", host.Heap.Debt())
			fmt.Printf("gcpause:      %d%%\n", host.Heap.GCPause)
			fmt.Printf("gcstepmul:    %d%%\n", host.Heap.GCStepMul)
			fmt.Printf("interned strings: %d\n", host.Strs.Len())
			return nil
		},
	}
}

// replCmd starts a line-editing interactive loop: each line is
// compiled and run as its own top-level chunk sharing one Host, so
// globals persist across lines.
func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			host, m := newHost()
			rl, err := readline.NewEx(&readline.Config{
				Prompt:          color.GreenString("gscript> "),
				HistoryFile:     "",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					continue
				}
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return err
				}
				if line == "" {
					continue
				}
				proto, err := lexer.Compile("=stdin", line, host.Strs)
				if err != nil {
					fmt.Fprintln(os.Stderr, color.RedString("%v", err))
					continue
				}
				if traceCode {
					printCode(proto)
				}
				results, err := m.Run(proto)
				if err != nil {
					fmt.Fprintln(os.Stderr, color.RedString("%v", err))
					continue
				}
				for _, r := range results {
					fmt.Println(displayValue(r))
				}
			}
		},
	}
}

func displayValue(v value.Value) string {
	switch v.Tag {
	case value.TagNil:
		return "nil"
	case value.TagBool:
		return fmt.Sprintf("%t", v.AsBool())
	case value.TagInt:
		return fmt.Sprintf("%d", v.AsInt())
	case value.TagFloat:
		return fmt.Sprintf("%.14g", v.AsFloat())
	default:
		if v.IsString() {
			return v.Str()
		}
		return color.CyanString("%s: %p", v.Tag, v.AsObject())
	}
}
