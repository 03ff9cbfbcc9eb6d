package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"imgslim/internal/processor"
	"imgslim/internal/tui"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the images and references a run would change, without modifying anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		report, err := processor.Scan(rootDir, cfg)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, fileStyle.Render(fmt.Sprintf("Images (%d, %s)", len(report.Images), tui.FormatMB(report.TotalBytes))))
		if len(report.Images) == 0 {
			fmt.Fprintf(out, "  %s %s\n", bulletStyle.Render("-"), dimStyle.Render("none"))
		}
		for _, img := range report.Images {
			detail := fmt.Sprintf("%s, %s", img.Kind, tui.FormatKB(img.Size))
			if img.Err != nil {
				detail = warnStyle.Render(img.Err.Error())
			}
			fmt.Fprintf(out, "  %s %s %s\n", bulletStyle.Render("-"), valueStyle.Render(img.RelPath), dimStyle.Render(detail))
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, fileStyle.Render(fmt.Sprintf("Markup (%d)", len(report.Markup))))
		if len(report.Markup) == 0 {
			fmt.Fprintf(out, "  %s %s\n", bulletStyle.Render("-"), dimStyle.Render("none"))
		}
		for _, m := range report.Markup {
			detail := fmt.Sprintf("%d references", m.References)
			if m.Err != nil {
				detail = warnStyle.Render(m.Err.Error())
			}
			fmt.Fprintf(out, "  %s %s %s\n", bulletStyle.Render("-"), valueStyle.Render(m.RelPath), dimStyle.Render(detail))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
