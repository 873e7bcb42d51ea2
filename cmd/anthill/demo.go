package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/anthill/lib/natives"
	"github.com/chazu/anthill/pkg/asm"
	"github.com/chazu/anthill/pkg/isa"
	"github.com/chazu/anthill/pkg/module"
)

var demoCmd = &cobra.Command{
	Use:   "demo [out.antp]",
	Short: "Write a small two-executor sample program.",
	Long: `Write a sample program: executor "clock" counts its ticks and executor
"report" prints the count it receives over a channel.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := "demo" + module.FileExtension
		if len(args) == 1 {
			out = args[0]
		}
		p, err := demoProgram()
		if err != nil {
			return err
		}
		if err := module.WriteFile(out, p); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

// demoProgram builds the sample program.
func demoProgram() (*module.Program, error) {
	clock := asm.New()
	count := clock.Global(8)
	clock.Append(
		asm.LoadGlobal(isa.KindInteger, 8, count),
		asm.PushInt(8, 1),
		asm.Arith(isa.OpAdd, isa.KindInteger, 8),
		asm.StoreGlobal(8, count),
		&asm.Halt{},
	)
	clockModule, err := clock.Module("clock", "clock")
	if err != nil {
		return nil, err
	}
	countAddr, err := count.Resolve()
	if err != nil {
		return nil, err
	}

	report := asm.New()
	seen := report.Global(8)
	report.Append(
		asm.PushAddress(report.String("clock at ")),
		&asm.Native{Name: report.String(natives.Print), ArgBytes: natives.ArgsString},
		asm.LoadGlobal(isa.KindInteger, 8, seen),
		&asm.Native{Name: report.String(natives.PrintInt), ArgBytes: natives.ArgsInt},
		asm.PushAddress(report.String("")),
		&asm.Native{Name: report.String(natives.Println), ArgBytes: natives.ArgsString},
		&asm.Halt{},
	)
	seenAddr, err := seen.Resolve()
	if err != nil {
		return nil, err
	}
	reportModule, err := report.Module("report", "report", module.Binding{
		Source:      module.Source{Executor: "clock", Module: 0, Address: countAddr},
		Destination: seenAddr,
		Size:        8,
	})
	if err != nil {
		return nil, err
	}

	p := module.NewProgram("demo")
	p.Add(clockModule)
	p.Add(reportModule)
	return p, p.Validate()
}
