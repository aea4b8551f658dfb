// Command ambervm decodes, instantiates and runs a WebAssembly module with
// the stepping interpreter. When the module suspends on an unresolved host
// import, the execution state can be written to a snapshot file and resumed
// by a later run, possibly in a different process.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ambervm/ambervm/wasm"
	"github.com/ambervm/ambervm/wasm/binary"
	"github.com/ambervm/ambervm/wasm/interp"
	"github.com/ambervm/ambervm/wasm/snapshot"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ambervm:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ambervm",
		Short:         "Run WebAssembly modules with snapshottable execution state",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	return root
}

type runOptions struct {
	invoke      string
	args        []string
	snapshotOut string
	resume      string
	hostResults []string
	verbose     bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <module.wasm>",
		Short: "Decode, instantiate and invoke a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModule(args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.invoke, "invoke", "main", "exported function to invoke")
	cmd.Flags().StringSliceVar(&opts.args, "args", nil, "i32 arguments for the invoked function")
	cmd.Flags().StringVar(&opts.snapshotOut, "snapshot-out", "", "write a snapshot here if execution suspends on a host import")
	cmd.Flags().StringVar(&opts.resume, "resume", "", "resume from a snapshot file instead of starting fresh")
	cmd.Flags().StringSliceVar(&opts.hostResults, "host-results", nil, "results for the host import a resumed snapshot is suspended on")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	return cmd
}

func newLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	return cfg.Build()
}

func runModule(path string, opts *runOptions) error {
	log, err := newLogger(opts.verbose)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	m, err := binary.DecodeModule(source)
	if err != nil {
		return err
	}
	validated, err := wasm.Validate(m)
	if err != nil {
		return err
	}
	log.Debug("module validated",
		zap.Int("functions", len(m.FunctionSection)),
		zap.Int("imports", len(m.ImportSection)))

	store := wasm.NewStore()
	engine := interp.New(store, interp.WithLogger(log))
	if err := registerBuiltins(store, log); err != nil {
		return err
	}
	inst, err := store.Instantiate(validated, "main", engine)
	if err != nil {
		return err
	}

	var st *interp.State
	if opts.resume != "" {
		raw, err := os.ReadFile(opts.resume)
		if err != nil {
			return err
		}
		snap, err := snapshot.Decode(raw)
		if err != nil {
			return err
		}
		if st, err = snapshot.Restore(snap, store); err != nil {
			return err
		}
		// A snapshot written by this command is always suspended on a host
		// import, so the results of that call come in from the flag.
		if st.Suspended() {
			if len(opts.hostResults) != len(st.AwaitResults) {
				return fmt.Errorf("import %s.%s awaits %d host result(s), got %d; pass them with --host-results",
					st.AwaitCall.Module, st.AwaitCall.Name, len(st.AwaitResults), len(opts.hostResults))
			}
			results, err := parseArgs(opts.hostResults, st.AwaitResults)
			if err != nil {
				return err
			}
			if err := engine.Resume(st, results); err != nil {
				return err
			}
		}
		log.Info("resumed from snapshot", zap.String("file", opts.resume))
	} else {
		fn, err := inst.ExportedFunction(store, opts.invoke)
		if err != nil {
			return err
		}
		args, err := parseArgs(opts.args, fn.Type.Params)
		if err != nil {
			return err
		}
		if st, err = engine.NewState(fn, args); err != nil {
			return err
		}
	}

	res, err := engine.Run(st)
	if err != nil {
		return err
	}
	switch res {
	case interp.Return:
		for _, v := range st.Values {
			fmt.Println(v)
		}
		return nil
	case interp.AwaitHost:
		if opts.snapshotOut == "" {
			return fmt.Errorf("execution suspended on host import %s.%s and no --snapshot-out was given",
				st.AwaitCall.Module, st.AwaitCall.Name)
		}
		snap, err := snapshot.Capture(st)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.snapshotOut, snapshot.Encode(snap), 0o644); err != nil {
			return err
		}
		log.Info("execution suspended, snapshot written",
			zap.String("import", st.AwaitCall.Module+"."+st.AwaitCall.Name),
			zap.String("file", opts.snapshotOut))
		return nil
	}
	return fmt.Errorf("unexpected step result %s", res)
}

// registerBuiltins provides a minimal resolved host surface. Anything a
// module imports beyond these stays pending and suspends when called.
func registerBuiltins(store *wasm.Store, log *zap.Logger) error {
	_, err := store.AddHostFunc("env", "echo_i32",
		&wasm.FuncType{Params: []wasm.ValType{wasm.ValTypeI32}, Results: []wasm.ValType{wasm.ValTypeI32}},
		func(args []wasm.Value) ([]wasm.Value, error) {
			log.Info("echo_i32", zap.String("value", args[0].String()))
			return args, nil
		})
	return err
}

// parseArgs turns the --args strings into typed values per the target
// signature. Integers only; float arguments are rare enough on a CLI that
// embedders should use the library instead.
func parseArgs(raw []string, params []wasm.ValType) ([]wasm.Value, error) {
	if len(raw) != len(params) {
		return nil, fmt.Errorf("function takes %d arguments, got %d", len(params), len(raw))
	}
	args := make([]wasm.Value, len(raw))
	for i, s := range raw {
		s = strings.TrimSpace(s)
		switch params[i] {
		case wasm.ValTypeI32:
			n, err := strconv.ParseInt(s, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = wasm.ValueI32(int32(n))
		case wasm.ValTypeI64:
			n, err := strconv.ParseInt(s, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			args[i] = wasm.ValueI64(n)
		default:
			return nil, fmt.Errorf("argument %d: unsupported parameter type %s", i, params[i])
		}
	}
	return args, nil
}
