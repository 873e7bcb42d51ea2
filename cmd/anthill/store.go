package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/anthill/pkg/module"
	"github.com/chazu/anthill/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the program store.",
	Long:  "Manage compiled programs kept in a SQLite database ($ANTHILL_DB, or ~/.anthill/programs.db).",
}

func withStore(cmd *cobra.Command, fn func(*store.Store) error) error {
	s, err := openStore(GetString(cmd, "db"))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

var storeImportCmd = &cobra.Command{
	Use:   "import <program.antp>",
	Short: "Add a program file to the store, replacing any program of the same name.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := module.ReadFile(args[0])
		if err != nil {
			return err
		}
		if name := GetString(cmd, "name"); name != "" {
			p.Name = name
		}
		return withStore(cmd, func(s *store.Store) error {
			if err := s.Put(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s in %s\n", p.Name, s.Path())
			return nil
		})
	},
}

var storeExportCmd = &cobra.Command{
	Use:   "export <name> <program.antp>",
	Short: "Write a stored program to a file.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *store.Store) error {
			p, err := s.Get(args[0])
			if err != nil {
				return err
			}
			return module.WriteFile(args[1], p)
		})
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored programs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *store.Store) error {
			entries, err := s.List()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tEXECUTORS\tMODULES\tBYTES\tUPDATED")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", e.Name, e.Executors, e.Modules, e.Size, e.Updated.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		})
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a stored program.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *store.Store) error {
			return s.Delete(args[0])
		})
	},
}

func init() {
	storeCmd.PersistentFlags().String("db", "", "store database path")
	storeImportCmd.Flags().String("name", "", "store under this name instead of the program's own")
	storeCmd.AddCommand(storeImportCmd, storeExportCmd, storeListCmd, storeRemoveCmd)
	rootCmd.AddCommand(storeCmd)
}
