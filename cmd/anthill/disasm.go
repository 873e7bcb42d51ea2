package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chazu/anthill/pkg/isa"
)

var disasmCmd = &cobra.Command{
	Use:   "disasm <program.antp>",
	Short: "Print the instructions and bindings of every module in a program.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProgram(nil, args[0], "")
		if err != nil {
			return err
		}
		only := GetString(cmd, "executor")
		w := cmd.OutOrStdout()
		for _, name := range p.Executors() {
			if only != "" && name != only {
				continue
			}
			for i, m := range p.Modules(name) {
				label := m.Label() + "[" + strconv.Itoa(i) + "]"
				fmt.Fprint(w, isa.DisassembleWithName(label, m.Bytecode, int(m.CodeSize)))
				for _, b := range m.Bindings {
					fmt.Fprintf(w, "; bind %s\n", b)
				}
				fmt.Fprintln(w)
			}
		}
		return nil
	},
}

func init() {
	disasmCmd.Flags().StringP("executor", "e", "", "only list modules of this executor")
	rootCmd.AddCommand(disasmCmd)
}
