// Package main is the CLI entry point for nottoday.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nottoday/nottoday/internal/buildinfo"
	"github.com/nottoday/nottoday/internal/daemon"
	"github.com/nottoday/nottoday/internal/domain"
	"github.com/nottoday/nottoday/internal/infra"
	"github.com/nottoday/nottoday/internal/rpc"
	"github.com/nottoday/nottoday/internal/schedule"
	"github.com/nottoday/nottoday/internal/usecase"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nottoday",
	Short: "Website blocker driven by a weekly schedule",
	Long: `nottoday blocks distracting websites by rewriting the hosts file.
Blocking follows a weekly schedule and can be forced on for a fixed
duration. An optional privileged helper daemon keeps the schedule
enforced even when nottoday itself is not running.`,
	Version: buildinfo.Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduling agent in the foreground",
	Long: `Evaluates the weekly schedule once a minute and converges the hosts
file, watching the configuration file for edits. When the privileged
helper is installed the helper performs the mutations and this agent
only tracks status.`,
	RunE: runAgent,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show blocking state, helper state, and the schedule",
	RunE:  runStatus,
}

var activateCmd = &cobra.Command{
	Use:   "activate",
	Short: "Turn blocking on now",
	Long:  `Installs the block section immediately, regardless of the schedule.`,
	RunE:  runActivate,
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Turn blocking off now",
	RunE:  runDeactivate,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Converge the hosts file to what the schedule wants",
	Long: `Compares the desired blocking state for the current time against the
hosts file and applies whatever change is needed to converge the two.
Exits non-zero only when the hosts file cannot be read or updated.`,
	RunE: runCheck,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured and currently installed blocked sites",
	RunE:  runList,
}

var addCmd = &cobra.Command{
	Use:   "add <site>",
	Short: "Add a site to the block list",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

var removeCmd = &cobra.Command{
	Use:   "remove <site>",
	Short: "Remove a site from the block list",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show the weekly schedule",
	RunE:  runScheduleShow,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable scheduled blocking",
	RunE:  func(cmd *cobra.Command, args []string) error { return runScheduleEnabled(true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable scheduled blocking",
	RunE:  func(cmd *cobra.Command, args []string) error { return runScheduleEnabled(false) },
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <day> <ranges|off>",
	Short: "Set one weekday's blocking hours",
	Long: `Sets the blocking hours for a weekday, for example:

  nottoday schedule set monday 09:00-12:00,13:00-17:30
  nottoday schedule set saturday off

Ranges are half-open: blocking starts at the first minute and ends at
the last. Back-to-back ranges like 09:00-12:00,12:00-17:00 are fine;
overlapping ranges are rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: runScheduleSet,
}

var blockCmd = &cobra.Command{
	Use:   "block <minutes>",
	Short: "Block for a fixed number of minutes starting now",
	Long: `Starts a manual blocking session. A one-shot system job is installed
alongside the block so the session ends on time even if nottoday is
not running then.`,
	Args: cobra.ExactArgs(1),
	RunE: runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock",
	Short: "End a manual blocking session early",
	RunE:  runUnblock,
}

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Manage the privileged helper daemon",
}

var helperInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the helper daemon and hand it the current schedule",
	RunE:  runHelperInstall,
}

var helperUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the helper daemon and any blocking it installed",
	RunE:  runHelperUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden: this is what the LaunchDaemon actually executes.
var enforcerCmd = &cobra.Command{
	Use:    "enforcer",
	Hidden: true,
	RunE:   runEnforcer,
}

var jsonOutput bool

func init() {
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleSetCmd)
	helperCmd.AddCommand(helperInstallCmd)
	helperCmd.AddCommand(helperUninstallCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(deactivateCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(helperCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(enforcerCmd)
}

// deps is the composition root shared by the user-facing commands.
type deps struct {
	paths    *infra.Paths
	logger   *zap.Logger
	runner   domain.PrivilegedRunner
	editor   *infra.HostsFile
	store    *infra.FileConfigStore
	client   *rpc.Client
	job      *infra.DeactivationJob
	blocking *usecase.Blocking
	settings *usecase.Settings
}

func buildDeps() *deps {
	paths := infra.DetectPaths()
	logger := createLogger(paths)

	var runner domain.PrivilegedRunner
	if paths.IsRoot {
		runner = infra.NewDirectRunner()
	} else {
		runner = infra.NewAdminPromptRunner(logger)
	}

	editor := infra.NewHostsFile(runner, logger)
	store := infra.NewFileConfigStore(paths, logger)
	client := rpc.NewClient(infra.HelperSocketPath, logger)
	job := infra.NewDeactivationJob(paths, runner, logger)
	blocking := usecase.NewBlocking(editor, client, job, runner, logger)
	settings := usecase.NewSettings(store, client, logger)

	return &deps{
		paths:    paths,
		logger:   logger,
		runner:   runner,
		editor:   editor,
		store:    store,
		client:   client,
		job:      job,
		blocking: blocking,
		settings: settings,
	}
}

func (d *deps) close() {
	_ = d.client.Close()
	_ = d.logger.Sync()
}

func runAgent(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	watcher, err := infra.NewConfigWatcher(d.store.Path(), d.logger)
	if err != nil {
		return fmt.Errorf("failed to watch config: %w", err)
	}

	scheduler, err := usecase.NewScheduler(d.blocking, d.store, d.client, watcher.Events(), d.logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	go watcher.Run(ctx)

	fmt.Println("nottoday agent running, press Ctrl-C to stop")
	scheduler.Run(ctx)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()
	ctx := cmd.Context()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}

	fmt.Println("\n=== nottoday Status ===")

	active, err := d.editor.CurrentlyBlocking()
	if err != nil {
		return err
	}
	if active {
		sites, _ := d.editor.CurrentSites()
		fmt.Printf("Blocking: ACTIVE (%d sites)\n", len(sites))
	} else {
		fmt.Println("Blocking: inactive")
	}

	switch err := d.client.Ping(ctx); {
	case err == nil:
		v, _ := d.client.Version(ctx)
		fmt.Printf("Helper: running (v%s)\n", v)
	case errors.Is(err, domain.ErrHelperVersionMismatch):
		fmt.Printf("Helper: version mismatch (%v)\n", err)
	default:
		pid := infra.NewPIDFile(d.paths.HelperPID, infra.NewProcessManager())
		if pid.Alive() {
			fmt.Println("Helper: process alive but not answering RPC")
		} else {
			fmt.Println("Helper: not running")
		}
	}

	if cfg.Enabled {
		fmt.Println("Schedule: enabled")
	} else {
		fmt.Println("Schedule: disabled")
	}
	fmt.Println(schedule.Summary(cfg.Schedule))

	now := time.Now()
	if cfg.Enabled && schedule.IsActiveNow(now, cfg.Schedule) {
		if end, ok := schedule.NextDeactivation(now, cfg.Schedule); ok {
			fmt.Printf("Current window ends: %s\n", end.Format("15:04"))
		}
	} else if next, ok := schedule.NextActivation(now, cfg.Schedule); ok {
		fmt.Printf("Next window: %s\n", next.Format("Mon 15:04"))
	}

	fmt.Printf("Config: %s\n", d.store.Path())
	fmt.Println("=======================")
	return nil
}

func runActivate(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}
	if err := d.blocking.Activate(cmd.Context(), cfg.BlockedSites); err != nil {
		return err
	}
	fmt.Printf("Blocking %d sites.\n", len(cfg.BlockedSites))
	return nil
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	if err := d.blocking.Deactivate(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Blocking is off.")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}
	actual, err := d.editor.CurrentlyBlocking()
	if err != nil {
		return err
	}
	now := time.Now()
	desired := cfg.Enabled && schedule.IsActiveNow(now, cfg.Schedule)

	if desired == actual {
		if actual {
			fmt.Println("Already converged: inside a scheduled window and blocking is active.")
		} else {
			fmt.Println("Already converged: outside all scheduled windows and blocking is off.")
		}
		return nil
	}

	if desired {
		if end, ok := schedule.NextDeactivation(now, cfg.Schedule); ok {
			if _, err := d.blocking.ActivateWithScheduledEnd(cmd.Context(), cfg.BlockedSites, end.Sub(now)); err != nil {
				return err
			}
			fmt.Printf("Converged: blocking %d sites until %s.\n", len(cfg.BlockedSites), end.Format("15:04"))
			return nil
		}
		if err := d.blocking.Activate(cmd.Context(), cfg.BlockedSites); err != nil {
			return err
		}
		fmt.Printf("Converged: blocking %d sites.\n", len(cfg.BlockedSites))
		return nil
	}

	if err := d.blocking.Deactivate(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Converged: blocking removed (outside all scheduled windows).")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}

	fmt.Println("\n=== Blocked Sites ===")
	for _, site := range cfg.BlockedSites {
		fmt.Printf("  - %s\n", site)
	}

	installed, err := d.editor.CurrentSites()
	if err == nil && len(installed) > 0 {
		fmt.Printf("\nCurrently installed in %s: %d sites\n", infra.HostsPath, len(installed))
	}
	fmt.Println("=====================")
	return nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	changed, err := d.settings.AddSite(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s is already in the block list.\n", args[0])
		return nil
	}
	fmt.Printf("Added %s.\n", args[0])
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	changed, err := d.settings.RemoveSite(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("%s is not in the block list.\n", args[0])
		return nil
	}
	fmt.Printf("Removed %s.\n", args[0])
	return nil
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}
	if cfg.Enabled {
		fmt.Println("Scheduled blocking: enabled")
	} else {
		fmt.Println("Scheduled blocking: disabled")
	}
	fmt.Println(schedule.Summary(cfg.Schedule))
	return nil
}

func runScheduleEnabled(enabled bool) error {
	d := buildDeps()
	defer d.close()

	if err := d.settings.SetEnabled(context.Background(), enabled); err != nil {
		return err
	}
	if enabled {
		fmt.Println("Scheduled blocking enabled.")
	} else {
		fmt.Println("Scheduled blocking disabled.")
	}
	return nil
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()

	day, ok := domain.WeekdayFromKey(strings.ToLower(args[0]))
	if !ok {
		return fmt.Errorf("unknown day %q", args[0])
	}

	var ds domain.DaySchedule
	if strings.EqualFold(args[1], "off") {
		ds = domain.DaySchedule{Enabled: false, Ranges: []domain.TimeRange{domain.DefaultRange()}}
	} else {
		ranges, err := parseRanges(args[1])
		if err != nil {
			return err
		}
		ds = domain.DaySchedule{Enabled: true, Ranges: ranges}
	}

	if err := d.settings.SetDaySchedule(cmd.Context(), day, ds); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", day, describeDay(ds))
	return nil
}

func runBlock(cmd *cobra.Command, args []string) error {
	minutes, err := strconv.Atoi(args[0])
	if err != nil || minutes <= 0 {
		return fmt.Errorf("minutes must be a positive integer, got %q", args[0])
	}

	d := buildDeps()
	defer d.close()

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}
	end, err := d.blocking.ActivateWithScheduledEnd(cmd.Context(), cfg.BlockedSites, time.Duration(minutes)*time.Minute)
	if err != nil {
		return err
	}
	fmt.Printf("Blocking %d sites until %s.\n", len(cfg.BlockedSites), end.Format("15:04"))
	return nil
}

func runUnblock(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()
	ctx := cmd.Context()

	if err := d.blocking.Deactivate(ctx); err != nil {
		return err
	}
	if err := d.blocking.CancelScheduledEnd(ctx); err != nil {
		d.logger.Warn("deactivation job cleanup failed", zap.Error(err))
	}
	fmt.Println("Blocking is off.")
	return nil
}

func runHelperInstall(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()
	ctx := cmd.Context()

	manager := infra.NewHelperDaemonManager(d.paths, d.runner, d.logger)

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if err := manager.Install(ctx, execPath); err != nil {
		return err
	}
	fmt.Println("Helper daemon installed.")

	// Give launchd a moment to start it, then hand over the schedule.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if d.client.Ping(ctx) == nil {
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
	if err := d.client.Ping(ctx); err != nil {
		fmt.Println("Helper is installed but not answering yet; it will pick up the schedule when nottoday next runs.")
		return nil
	}

	cfg, err := d.store.Load()
	if err != nil {
		return err
	}
	if err := d.client.UpdateSchedule(ctx, cfg.HelperProjection()); err != nil {
		return err
	}
	if err := d.client.SetScheduleEnabled(ctx, cfg.Enabled); err != nil {
		return err
	}
	fmt.Println("Schedule handed to the helper; blocking is now enforced even when nottoday is closed.")
	return nil
}

func runHelperUninstall(cmd *cobra.Command, args []string) error {
	d := buildDeps()
	defer d.close()
	ctx := cmd.Context()

	// Ask the helper to stand down first so blocking is removed by the
	// process that owns it; then tear out the daemon itself.
	if err := d.client.Ping(ctx); err == nil {
		if err := d.client.UninstallHelper(ctx); err != nil {
			d.logger.Warn("helper uninstall call failed", zap.Error(err))
		}
	}

	manager := infra.NewHelperDaemonManager(d.paths, d.runner, d.logger)
	if err := manager.Remove(ctx); err != nil {
		return err
	}

	// Belt and braces: if the helper was already dead it never removed
	// the block section.
	if err := d.blocking.Deactivate(ctx); err != nil {
		d.logger.Warn("post-uninstall deactivation failed", zap.Error(err))
	}

	fmt.Println("Helper daemon removed.")
	return nil
}

func runEnforcer(cmd *cobra.Command, args []string) error {
	if os.Geteuid() != 0 {
		return fmt.Errorf("the enforcer must run as root (it is started by launchd)")
	}

	paths := infra.DetectPaths()
	logger := createEnforcerLogger(paths.LogPath)
	defer func() { _ = logger.Sync() }()

	state := infra.NewHelperFileStore(paths)
	editor := infra.NewHostsFile(infra.NewDirectRunner(), logger)
	pid := infra.NewPIDFile(paths.HelperPID, infra.NewProcessManager())
	enforcer := daemon.NewEnforcer(daemon.DefaultConfig(), state, editor, pid, logger)

	server, err := rpc.NewServer(infra.HelperSocketPath, enforcer, logger)
	if err != nil {
		return err
	}
	if err := server.Listen(); err != nil {
		return fmt.Errorf("failed to bind helper socket: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		if err := server.Serve(ctx); err != nil {
			logger.Error("rpc server stopped", zap.Error(err))
		}
	}()

	err = enforcer.Run(ctx)
	cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			buildinfo.Version, buildinfo.Commit, buildinfo.BuildTime)
	} else {
		fmt.Printf("nottoday %s (commit: %s, built: %s)\n",
			buildinfo.Version, buildinfo.Commit, buildinfo.BuildTime)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func createLogger(paths *infra.Paths) *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{paths.LogPath}
	config.ErrorOutputPaths = []string{paths.LogPath}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

// createEnforcerLogger logs to a rotating file; the enforcer is long-lived
// and launchd will not rotate for us.
func createEnforcerLogger(logPath string) *zap.Logger {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	})
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, zap.InfoLevel)
	return zap.New(core)
}

func parseRanges(s string) ([]domain.TimeRange, error) {
	var ranges []domain.TimeRange
	for _, part := range strings.Split(s, ",") {
		bounds := strings.Split(strings.TrimSpace(part), "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("range %q must look like 09:00-17:00", part)
		}
		sh, sm, err := parseClock(bounds[0])
		if err != nil {
			return nil, err
		}
		eh, em, err := parseClock(bounds[1])
		if err != nil {
			return nil, err
		}
		ranges = append(ranges, domain.NewTimeRange(sh, sm, eh, em))
	}
	return ranges, nil
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("time %q must look like 09:00", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func describeDay(ds domain.DaySchedule) string {
	if !ds.Enabled {
		return "off"
	}
	var parts []string
	for _, r := range ds.Ranges {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}
