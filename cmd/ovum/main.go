// Command ovum is a thin wrapper around the vm package: it loads an
// optional config file, assembles a text bytecode source file into a
// method body, and runs it on a fresh VM/Thread pair. The engine itself
// is out of scope for any kind of module/package format (spec.md §1), so
// this entry point only ever runs a single free-standing "main" method
// assembled from one file.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osprey-lang/ovum/vm"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ovum",
		Short:         "Assemble and run Osprey-style bytecode sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a vm.Config YAML file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	root.AddCommand(newRunCommand())
	return root
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <source.osm>",
		Short: "Assemble a source file and run its main entry point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0])
		},
	}
}

func runFile(path string) error {
	cfg := vm.DefaultConfig()
	if configPath != "" {
		loaded, err := vm.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ovum: reading %s: %w", path, err)
	}

	pool := vm.NewStringPool(&vm.Type{Name: "String"})
	module := vm.NewModule(pool)
	entry := &vm.MethodOverload{Name: "main", ArgCount: 0, LocalCount: 16}
	module.RegisterMember(&vm.Member{Name: "main", Overloads: []*vm.MethodOverload{entry}})

	assembled, err := vm.NewAssembler(module).Assemble(string(src))
	if err != nil {
		return fmt.Errorf("ovum: assembling %s: %w", path, err)
	}
	entry.SourceBody = assembled

	machine := vm.New(vm.WithConfig(cfg), vm.WithStrings(pool), vm.WithTokenResolver(module))

	thread := machine.NewThread()
	defer machine.StopThread(thread)

	result, err := thread.Evaluate(entry, nil)
	if err != nil {
		machine.Log().WithFields(logrus.Fields{"source": path}).Error(err)
		fmt.Fprint(os.Stderr, vm.FormatStackTrace(thread))
		return err
	}

	fmt.Println(formatResult(result))
	return nil
}

func formatResult(v vm.Value) string {
	switch v.Kind {
	case vm.KindNull:
		return "null"
	case vm.KindPrimitive:
		return fmt.Sprintf("%#x", v.Raw)
	default:
		return "<object>"
	}
}
