package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Launch a program's swarm and tick it until interrupted.",
	Long: `Launch every module of a program on the executors configured in the
nearest anthill.toml (searched upward from dir, default "."). Executors tick
at their cadence until interrupted or until --ticks ticks have run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		m, err := loadManifest(dir)
		if err != nil {
			return err
		}
		p, err := loadProgram(m, GetString(cmd, "program"), GetString(cmd, "stored"))
		if err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if GetFlag(cmd, "locked") {
			if err := checkLock(m, p); err != nil {
				return err
			}
		}

		rt, err := newRuntime(m, p, cmd.OutOrStdout(), uint64(GetUint(cmd, "ticks")))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = rt.Launch(ctx, p)
		for _, e := range rt.Executors() {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d ticks, %d faults\n", e.Name(), e.Ticks(), e.Faults())
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringP("program", "p", "", "program file (.antp) to run instead of the manifest's")
	runCmd.Flags().String("stored", "", "name of a stored program to run instead of the manifest's")
	runCmd.Flags().Uint("ticks", 0, "stop every executor after this many ticks (0 = run until interrupted)")
	runCmd.Flags().Bool("locked", false, "verify the program against the lock file, writing it if missing")
	rootCmd.AddCommand(runCmd)
}
