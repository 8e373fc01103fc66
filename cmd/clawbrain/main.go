package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/clawbrain/internal/brain"
	"github.com/stellarlinkco/clawbrain/internal/config"
	"github.com/stellarlinkco/clawbrain/internal/cron"
	"github.com/stellarlinkco/clawbrain/internal/memory"
	"github.com/stellarlinkco/clawbrain/internal/skills"
)

var rootCmd = &cobra.Command{
	Use:           "clawbrain",
	Short:         "clawbrain - long-term memory for an agent workspace",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(os.Stderr, debugFlag, jsonLogsFlag)
	},
}

var digestCmd = &cobra.Command{
	Use:   "digest [DATE...]",
	Short: "Condense session transcripts into daily digests",
	RunE:  runDigest,
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate [DATE...]",
	Short: "Sort daily memory into category neurons",
	RunE:  runConsolidate,
}

var forgetCmd = &cobra.Command{
	Use:   "forget [DATE]",
	Short: "Summarise last month and archive aged memory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runForget,
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run all stages on schedule and consolidate daily memory on change",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write default configuration and create the workspace",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, neurons and scheduler state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var (
	debugFlag       bool
	jsonLogsFlag    bool
	watchFlag       bool
	monthFlag       string
	backfillFlag    bool
	summaryOnlyFlag bool
	forceFlag       bool
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogsFlag, "json-logs", false, "Write logs as JSON lines")
	consolidateCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Keep running and re-consolidate daily memory when it changes")
	forgetCmd.Flags().StringVar(&monthFlag, "month", "", "Month to summarise as YYYY-MM (default: the previous month)")
	forgetCmd.Flags().BoolVar(&backfillFlag, "backfill", false, "Also summarise earlier months that have no completion marker")
	forgetCmd.Flags().BoolVar(&summaryOnlyFlag, "summary-only", false, "Write summaries but archive nothing")
	forgetCmd.Flags().BoolVar(&forceFlag, "force", false, "Re-summarise a month that is already marked complete")
	rootCmd.AddCommand(digestCmd, consolidateCmd, forgetCmd, daemonCmd, initCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(w io.Writer, debug, jsonLogs bool) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if jsonLogs {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, NoColor: true})
	}
	// stages log through zerolog.Ctx; fall back to the global logger when
	// no run logger is attached
	zerolog.DefaultContextLogger = &log.Logger
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// loadBrain reads the configuration documents. The category document is
// only required by stages that classify; the schedule document only by the
// daemon.
func loadBrain(withCategories, withSchedule bool) (*brain.Brain, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	sched, found, err := config.LoadSchedule()
	if err != nil {
		return nil, err
	}
	if withSchedule && !found {
		return nil, fmt.Errorf("%w: schedule config not found at %s (run 'clawbrain init')", config.ErrConfig, config.SchedulePath())
	}

	var cats *config.CategoryConfig
	if withCategories {
		if cats, err = config.LoadCategories(); err != nil {
			return nil, err
		}
	}
	return brain.New(cfg, sched, cats)
}

// parseDate accepts YYYY-MM-DD, "today" and "yesterday".
func parseDate(arg string, today time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	d, err := memory.ParseDate(strings.TrimSpace(arg))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD, today or yesterday)", arg)
	}
	return d, nil
}

// parseDates defaults to yesterday when no dates are given.
func parseDates(args []string, today time.Time) ([]time.Time, error) {
	if len(args) == 0 {
		return []time.Time{today.AddDate(0, 0, -1)}, nil
	}
	dates := make([]time.Time, 0, len(args))
	for _, arg := range args {
		d, err := parseDate(arg, today)
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func runDigest(cmd *cobra.Command, args []string) error {
	b, err := loadBrain(false, false)
	if err != nil {
		return err
	}
	dates, err := parseDates(args, b.Today(time.Now()))
	if err != nil {
		return err
	}

	ctx := brain.WithRun(commandContext(cmd), string(cron.StageDigest))
	report := b.Digester().Run(ctx, dates...)
	for _, path := range report.Written {
		fmt.Printf("  Wrote: %s\n", path)
	}
	for _, date := range report.Skipped {
		fmt.Printf("  Skipped: %s (no sessions)\n", date)
	}
	if report.BadLines > 0 {
		fmt.Printf("  Unreadable lines: %d\n", report.BadLines)
	}
	if report.Failed() {
		return fmt.Errorf("digest: %w", errors.Join(report.Errors...))
	}
	return nil
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	b, err := loadBrain(true, false)
	if err != nil {
		return err
	}
	dates, err := parseDates(args, b.Today(time.Now()))
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	report, err := b.Consolidate(brain.WithRun(ctx, string(cron.StageConsolidate)), dates...)
	if err != nil {
		return err
	}
	for _, path := range report.Written {
		fmt.Printf("  Wrote: %s\n", path)
	}
	for _, date := range report.Skipped {
		fmt.Printf("  Skipped: %s (no daily memory)\n", date)
	}
	if report.SkillsAdded > 0 {
		fmt.Printf("  Skills indexed: %d\n", report.SkillsAdded)
	}
	if report.Failed() {
		return fmt.Errorf("consolidate: %w", errors.Join(report.Errors...))
	}

	if watchFlag {
		fmt.Printf("Watching %s (Ctrl+C to stop)\n", b.Store().Layout().MemoryDir())
		return b.Watch(ctx)
	}
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	b, err := loadBrain(true, false)
	if err != nil {
		return err
	}

	today := b.Today(time.Now())
	if len(args) == 1 {
		if today, err = parseDate(args[0], today); err != nil {
			return err
		}
	}
	var month time.Time
	if monthFlag != "" {
		if month, err = memory.ParseMonth(monthFlag); err != nil {
			return fmt.Errorf("invalid month %q (want YYYY-MM)", monthFlag)
		}
	}

	opts := b.ForgetOptions()
	opts.Backfill = backfillFlag
	opts.SummaryOnly = summaryOnlyFlag
	opts.Force = forceFlag
	curve, err := b.Curve(opts)
	if err != nil {
		return err
	}

	ctx := brain.WithRun(commandContext(cmd), string(cron.StageForget))
	report := curve.Run(ctx, today, month)
	for _, path := range report.Summaries {
		fmt.Printf("  Summary: %s\n", path)
	}
	if report.MarkerWritten {
		fmt.Printf("  Month complete: %s\n", report.Month)
	} else if report.AlreadySummarised {
		fmt.Printf("  Already summarised: %s (use --force to redo)\n", report.Month)
	}
	for _, m := range report.Backfilled {
		fmt.Printf("  Backfilled: %s\n", m)
	}
	for _, path := range report.Archived {
		fmt.Printf("  Archived: %s\n", path)
	}
	if report.Retained > 0 {
		fmt.Printf("  Retained: %d file(s) awaiting a monthly summary\n", report.Retained)
	}
	if report.Failed() {
		return fmt.Errorf("forget: %w", errors.Join(report.Errors...))
	}
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	b, err := loadBrain(true, true)
	if err != nil {
		return err
	}
	return b.Serve(commandContext(cmd))
}

func runInit(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	docs := []struct {
		path string
		save func() error
	}{
		{config.ConfigPath(), func() error { return config.SaveConfig(config.DefaultConfig()) }},
		{config.CategoriesPath(), func() error { return config.SaveCategories(config.DefaultCategoryConfig()) }},
		{config.SchedulePath(), func() error { return config.SaveSchedule(config.DefaultScheduleConfig()) }},
	}
	for _, doc := range docs {
		if err := writeIfNotExists(doc.path, doc.save); err != nil {
			return err
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	layout := memory.NewLayout(cfg.Workspace, cfg.ArchiveDir)
	for _, dir := range []string{layout.MemoryDir(), layout.DigestDir(), layout.NeuronsDir(), layout.MonthlyDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
	}

	fmt.Printf("Workspace ready: %s\n", cfg.Workspace)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to point at your agent workspace and sessions\n", config.ConfigPath())
	fmt.Printf("  2. Tune categories in %s\n", config.CategoriesPath())
	fmt.Println("  3. Run 'clawbrain consolidate today' to test")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return err
	}
	sched, found, err := config.LoadSchedule()
	if err != nil {
		fmt.Printf("Schedule: error (%v)\n", err)
		return err
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	if found {
		fmt.Printf("Schedule: %s\n", config.SchedulePath())
	} else {
		fmt.Println("Schedule: defaults (no schedule.json)")
	}
	fmt.Printf("Timezone: %s\n", sched.Timezone)
	fmt.Printf("Archive after: %d days\n", sched.ArchiveDays)
	fmt.Printf("Sessions: %s\n", cfg.SessionsDir)

	if _, err := os.Stat(cfg.Workspace); err != nil {
		fmt.Println("Workspace: not found (run 'clawbrain init')")
		return nil
	}
	fmt.Printf("Workspace: %s\n", cfg.Workspace)

	store := memory.NewFileStore(memory.NewLayout(cfg.Workspace, cfg.ArchiveDir))
	cats, err := config.LoadCategories()
	if err != nil {
		fmt.Printf("Categories: error (%v)\n", err)
	} else {
		fmt.Printf("Categories: %d (fallback %s)\n", len(cats.Categories), cats.Fallback())
		keys := append(cats.Keys(), cats.Fallback())
		seen := make(map[string]bool, len(keys))
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true
			folder := cats.FolderFor(key)
			files, _ := store.ListDated(store.Layout().NeuronDir(folder))
			fmt.Printf("  %-16s neurons/%s (%d files)\n", key, folder, len(files))
		}
	}

	if data, err := store.ReadSkillsIndex(); err == nil && data != nil {
		fmt.Printf("Skills index: %d entries\n", len(skills.ParseIndex(data).Entries()))
	} else {
		fmt.Println("Skills index: empty")
	}

	state, err := cron.LoadState(config.StatePath())
	if err != nil {
		fmt.Printf("Scheduler: error (%v)\n", err)
		return nil
	}
	for _, stage := range cron.Stages {
		st, ok := state[stage]
		if !ok || st.LastRunAtMs == 0 {
			fmt.Printf("  %-12s never run\n", stage)
			continue
		}
		line := fmt.Sprintf("  %-12s %s at %s (%dms)", stage, st.LastStatus,
			time.UnixMilli(st.LastRunAtMs).In(sched.Location()).Format("2006-01-02 15:04"), st.DurationMs)
		if st.LastError != "" {
			line += ": " + st.LastError
		}
		fmt.Println(line)
	}
	return nil
}

// writeIfNotExists runs write only when nothing exists at path yet.
func writeIfNotExists(path string, write func() error) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := write(); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("  Created: %s\n", path)
	}
	return nil
}
