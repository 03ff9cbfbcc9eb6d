package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"imgslim/internal/backup"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Copy originals back from the backup directory and remove their converted copies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		absRoot, err := filepath.Abs(rootDir)
		if err != nil {
			return err
		}

		archiver := backup.New(absRoot, cfg.BackupDir)
		restored, err := archiver.Restore(cfg.TargetExtension)
		if err != nil {
			return fmt.Errorf("restore from %s: %w", archiver.Dir(), err)
		}

		out := cmd.OutOrStdout()
		removed := 0
		for _, r := range restored {
			rel, _ := filepath.Rel(absRoot, r.Original)
			note := ""
			if r.Removed {
				removed++
				note = dimStyle.Render(" (removed " + filepath.Base(r.Converted) + ")")
			}
			fmt.Fprintf(out, "  %s %s%s\n", bulletStyle.Render("-"), valueStyle.Render(filepath.ToSlash(rel)), note)
		}
		fmt.Fprintln(out, okStyle.Render(fmt.Sprintf("Restored %d originals, removed %d converted files.", len(restored), removed)))
		fmt.Fprintln(out, warnStyle.Render("Markup references were not reverted."))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
