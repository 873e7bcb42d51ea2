package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [dir]",
	Short: "Tick a program without a cadence and dump an ant's memory.",
	Long: `Schedule a program as run does, tick every executor --ticks times in
registration order with no delay, then print the state of one ant and a hex
dump of part of its memory.`,
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
		rt, err := newRuntime(m, p, cmd.OutOrStdout(), 0)
		if err != nil {
			return err
		}
		scheduleErr := rt.Schedule(p)
		rt.Freeze()

		for i, n := uint(0), GetUint(cmd, "ticks"); i < n; i++ {
			for _, e := range rt.Executors() {
				e.Tick()
			}
		}

		name := GetString(cmd, "executor")
		if name == "" {
			names := p.Executors()
			if len(names) == 0 {
				return errors.New("program has no targets")
			}
			name = names[0]
		}
		e, ok := rt.Executor(name)
		if !ok {
			return errors.Join(scheduleErr, fmt.Errorf("no executor %q", name))
		}
		index := int(GetUint(cmd, "module"))
		ant := e.Ant(index)
		if ant == nil {
			return errors.Join(scheduleErr, fmt.Errorf("executor %s has no module %d", name, index))
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ant %s  id %s\n", ant.Label(), ant.ID())
		fmt.Fprintf(w, "ticks %d  memory %d bytes\n", ant.Ticks(), ant.MemorySize())
		if f := ant.Fault(); f != nil {
			fmt.Fprintf(w, "fault %v\n", f)
		}
		for _, c := range ant.Channels() {
			fmt.Fprintf(w, "channel %s\n", c.Binding())
		}

		addr := uint32(GetUint(cmd, "addr"))
		data, err := ant.ReadAt(addr, uint32(GetUint(cmd, "len")))
		if err != nil {
			return err
		}
		dump(w, addr, data, rowWidth())
		return scheduleErr
	},
}

func init() {
	inspectCmd.Flags().StringP("program", "p", "", "program file (.antp) instead of the manifest's")
	inspectCmd.Flags().String("stored", "", "name of a stored program instead of the manifest's")
	inspectCmd.Flags().Uint("ticks", 1, "ticks to run before dumping")
	inspectCmd.Flags().StringP("executor", "e", "", "executor of the ant to dump (default: first target)")
	inspectCmd.Flags().UintP("module", "m", 0, "index of the ant within its executor")
	inspectCmd.Flags().Uint("addr", 0, "first address to dump")
	inspectCmd.Flags().Uint("len", 256, "number of bytes to dump")
	rootCmd.AddCommand(inspectCmd)
}

// rowWidth picks how many bytes fit on one dump row of the terminal: a
// multiple of 8 between 8 and 32, or 16 when stdout is not a terminal.
func rowWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 16
	}
	cols, _, err := term.GetSize(fd)
	if err != nil {
		return 16
	}
	return bytesPerRow(cols)
}

// bytesPerRow fits address (6) + separator (2) + 4 columns per byte.
func bytesPerRow(cols int) int {
	n := (cols - 8) / 4
	n -= n % 8
	return max(8, min(n, 32))
}

// dump writes a hex and ASCII listing of data, which starts at base.
func dump(w io.Writer, base uint32, data []byte, perRow int) {
	var sb strings.Builder
	for off := 0; off < len(data); off += perRow {
		row := data[off:min(off+perRow, len(data))]
		sb.Reset()
		fmt.Fprintf(&sb, "%06X  ", base+uint32(off))
		for i := 0; i < perRow; i++ {
			if i < len(row) {
				fmt.Fprintf(&sb, "%02X ", row[i])
			} else {
				sb.WriteString("   ")
			}
		}
		for _, b := range row {
			if b >= 0x20 && b < 0x7F {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		fmt.Fprintln(w, strings.TrimRight(sb.String(), " "))
	}
}
