package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"imgslim/internal/config"
	"imgslim/internal/processor"
	"imgslim/internal/transcode"
	"imgslim/internal/tui"
)

var (
	rootDir      string
	configPath   string
	quality      int
	backupDir    string
	rewriteScope string
	noProgress   bool
)

var rootCmd = &cobra.Command{
	Use:   "imgslim",
	Short: "imgslim - convert project images to WebP and fix up HTML references",
	Long: "imgslim backs up every JPEG/PNG under a project, converts it to WebP, " +
		"removes the original and rewrites quoted image paths in .html files.\n\n" +
		"Rollback: run `imgslim restore`, or delete the .webp files and copy the originals back from the backup directory.",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runOptimize,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", ".", "project root to process")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default <root>/"+config.FileName+" when present)")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "backup directory name under the root")

	rootCmd.Flags().IntVarP(&quality, "quality", "q", 0, "WebP quality 0-100 (default 82)")
	rootCmd.Flags().StringVar(&rewriteScope, "rewrite-scope", "", "which references to rewrite: extension or renamed")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "plain line output instead of the live progress view")
}

// loadConfig resolves the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Resolve(rootDir, configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("quality") {
		cfg.Quality = quality
	}
	if flags.Changed("backup-dir") {
		cfg.BackupDir = backupDir
	}
	if flags.Changed("rewrite-scope") {
		cfg.RewriteScope = rewriteScope
	}
	return cfg.Finalize()
}

func runOptimize(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	codec := transcode.NewWebP(cfg.Quality, cfg.TargetExtension)
	if err := codec.Probe(); err != nil {
		return fmt.Errorf("%w; install libwebp and rebuild with cgo enabled", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	updates := make(chan processor.ProgressUpdate, 64)
	uiDone := make(chan struct{})

	if !noProgress && isTerminal(out) {
		program := tea.NewProgram(tui.NewModel(updates, stop), tea.WithOutput(out))
		go func() {
			_, _ = program.Run()
			for range updates {
			}
			close(uiDone)
		}()
	} else {
		go func() {
			tui.Stream(out, updates)
			close(uiDone)
		}()
	}

	summary, err := processor.Run(ctx, rootDir, processor.Options{Config: cfg, Transcoder: codec}, updates)
	close(updates)
	<-uiDone
	if err != nil {
		return err
	}

	if summary.NothingToDo {
		fmt.Fprintln(out, okStyle.Render("No images to process."))
		return nil
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, tui.RenderSummary(tui.RunRows(summary)))
	if summary.Interrupted {
		fmt.Fprintln(out, warnStyle.Render("Interrupted: remaining images were left untouched. Re-run to continue."))
	}
	if summary.Failed > 0 && cfg.RewriteScope == config.ScopeExtension {
		fmt.Fprintln(out, warnStyle.Render("Some images failed; their references were still retargeted to "+cfg.TargetExtension+"."))
	}
	return nil
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
