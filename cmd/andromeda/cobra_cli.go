package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/freitascorp/andromeda/pkg/cachestorage"
	"github.com/freitascorp/andromeda/pkg/config"
	"github.com/freitascorp/andromeda/pkg/eventloop"
	"github.com/freitascorp/andromeda/pkg/extension"
	"github.com/freitascorp/andromeda/pkg/ffiext"
	"github.com/freitascorp/andromeda/pkg/hostdata"
	"github.com/freitascorp/andromeda/pkg/jsagent/sobekagent"
	"github.com/freitascorp/andromeda/pkg/logger"
	"github.com/freitascorp/andromeda/pkg/modules"
	"github.com/freitascorp/andromeda/pkg/netext"
	"github.com/freitascorp/andromeda/pkg/sqliteext"
	"github.com/freitascorp/andromeda/pkg/timersext"
	"github.com/freitascorp/andromeda/pkg/vfs"
)

var (
	flagConfigPath string
	flagDebug      bool
)

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfigPath)
}

// newRootCmd builds the andromeda root command, following the teacher's
// root-command shape (persistent flags, a PersistentPreRun that wires
// debug logging, silenced usage/errors so RunE's own error becomes the
// only output).
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "andromeda",
		Short: "Run JavaScript/TypeScript modules against the andromeda runtime",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				logger.SetLevel(slog.LevelDebug)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to a YAML config file")
	root.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newModgraphCmd(),
		newVersionCmd(),
	)
	return root
}

// runtimeStack is everything newRuntime builds for one module-running
// invocation: the wired agent, its extension registry, the event loop,
// and the module loader driving it.
type runtimeStack struct {
	cfg      *config.Config
	agent    *sobekagent.Agent
	registry *extension.Registry
	loop     *eventloop.Loop
	loader   *modules.Loader
}

// newRuntime constructs the full stack: Host Data, a sobek-backed
// Agent, every core extension (spec §4's net/fs/sqlite/cache_storage/ffi
// plus the timers global functions), and the module loader wired to
// resolve against cfg.ModuleRoot with an HTTP fallback for bare
// specifiers that look like URLs.
func newRuntime(cfg *config.Config) (*runtimeStack, error) {
	data := hostdata.New(cfg.AsyncWorkers)
	agent := sobekagent.New(data)

	registry := extension.NewRegistry()
	registry.Add(timersext.NewExtension())
	registry.Add(netext.NewExtension(cfg.NodeCompatLossyUTF8))
	registry.Add(vfs.NewExtension(cfg.VFSPath))
	registry.Add(sqliteext.NewExtension())
	registry.Add(cachestorage.NewExtension(cfg.CacheStoragePath))
	registry.Add(ffiext.NewExtension())

	if err := registry.Apply(agent); err != nil {
		return nil, err
	}

	timersMgr, ok := hostdata.Get[*timersext.Manager](data)
	if !ok {
		return nil, fmt.Errorf("timers extension storage missing after Apply")
	}
	loop := eventloop.New(agent)
	loop.TimerRunner = timersMgr.Runner(agent)

	fsLoader := modules.NewFilesystemLoader(cfg.ModuleRoot)
	httpLoader := modules.NewHTTPLoader()
	loader := modules.NewLoader(modules.NewCompositeLoader(fsLoader, httpLoader), agent)

	return &runtimeStack{cfg: cfg, agent: agent, registry: registry, loop: loop, loader: loader}, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <entry-module>",
		Short: "Load, evaluate and run a module to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			entryID, err := rt.loader.LoadModule(args[0], "")
			if err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}

			order, err := rt.loader.GetDependencyOrder()
			if err != nil {
				return fmt.Errorf("ordering module graph: %w", err)
			}
			for _, id := range order {
				if _, err := rt.loader.EvaluateModule(id); err != nil {
					return fmt.Errorf("evaluating module: %w", err)
				}
			}
			_ = entryID

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, os.Interrupt)
				<-sigCh
				cancel()
			}()

			return rt.loop.Run(ctx)
		},
	}
	return cmd
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <entry-module>",
		Short: "Load a module graph and report its state without running it",
		Long: `check resolves and parses an entry module and every module it
imports, without evaluating any of them, and prints a JSON snapshot of
the resulting graph (state, parse errors, import/export lists). It is a
thin accessor over the loader's own bookkeeping, not a type-checker or
linter — those are an external collaborator's job, not this core's.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			_, loadErr := rt.loader.LoadModule(args[0], "")

			snapshot := rt.loader.Snapshot()
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snapshot); err != nil {
				return err
			}
			return loadErr
		},
	}
	return cmd
}

func newModgraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modgraph <entry-module>",
		Short: "Print the module dependency order for an entry module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}

			if _, err := rt.loader.LoadModule(args[0], ""); err != nil {
				return fmt.Errorf("loading %s: %w", args[0], err)
			}
			order, err := rt.loader.GetDependencyOrder()
			if err != nil {
				return err
			}
			for _, id := range order {
				rec, ok := rt.loader.GetModule(id)
				if !ok {
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", id, rec.State, rec.Specifier)
			}
			return nil
		},
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the andromeda version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("andromeda dev")
		},
	}
}
