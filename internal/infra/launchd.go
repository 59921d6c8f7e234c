package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
)

// Helper LaunchDaemon plist template (runs the enforcer as root).
const helperPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>{{.ExecutablePath}}</string>
        <string>enforcer</string>
    </array>

    <key>RunAtLoad</key>
    <true/>

    <key>KeepAlive</key>
    <true/>

    <key>StandardOutPath</key>
    <string>{{.LogPath}}</string>

    <key>StandardErrorPath</key>
    <string>{{.LogPath}}</string>

    <key>ThrottleInterval</key>
    <integer>10</integer>
</dict>
</plist>`

// One-shot deactivation job template. StartCalendarInterval uses
// wall-clock Month/Day/Hour/Minute fields, so the job survives restarts
// and fires at the absolute instant rather than after a relative sleep.
// The job removes itself after firing.
const deactivationPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>

    <key>ProgramArguments</key>
    <array>
        <string>/bin/sh</string>
        <string>-c</string>
        <string>{{.ExecutablePath}} deactivate; /bin/rm -f {{.PlistPath}}; /bin/launchctl remove {{.Label}}</string>
    </array>

    <key>StartCalendarInterval</key>
    <dict>
        <key>Month</key>
        <integer>{{.Month}}</integer>
        <key>Day</key>
        <integer>{{.Day}}</integer>
        <key>Hour</key>
        <integer>{{.Hour}}</integer>
        <key>Minute</key>
        <integer>{{.Minute}}</integer>
    </dict>

    <key>RunAtLoad</key>
    <false/>
</dict>
</plist>`

type helperPlistConfig struct {
	Label          string
	ExecutablePath string
	LogPath        string
}

type deactivationPlistConfig struct {
	Label          string
	ExecutablePath string
	PlistPath      string
	Month          int
	Day            int
	Hour           int
	Minute         int
}

// HelperDaemonManager installs and removes the enforcer LaunchDaemon.
type HelperDaemonManager struct {
	paths  *Paths
	runner domain.PrivilegedRunner
	logger *zap.Logger
}

// NewHelperDaemonManager creates a manager for the enforcer LaunchDaemon.
func NewHelperDaemonManager(paths *Paths, runner domain.PrivilegedRunner, logger *zap.Logger) *HelperDaemonManager {
	return &HelperDaemonManager{paths: paths, runner: runner, logger: logger}
}

// IsInstalled checks if the helper plist is present.
func (m *HelperDaemonManager) IsInstalled() bool {
	_, err := os.Stat(m.paths.HelperPlistPath())
	return err == nil
}

// Install copies the binary to its system location, writes the
// LaunchDaemon plist, and loads it. One elevation covers all steps.
func (m *HelperDaemonManager) Install(ctx context.Context, execPath string) error {
	content, err := renderTemplate(helperPlistTemplate, helperPlistConfig{
		Label:          HelperLabel,
		ExecutablePath: m.paths.BinaryPath,
		LogPath:        "/var/log/nottoday-helper.log",
	})
	if err != nil {
		return err
	}

	tmpPlist, err := TempFile("nottoday-plist-*", content)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPlist)

	plistPath := m.paths.HelperPlistPath()
	script := fmt.Sprintf("/bin/mkdir -p %s && /bin/cp %s %s && /bin/chmod 755 %s && %s && /bin/launchctl load %s",
		shellQuote(m.paths.HelperDir),
		shellQuote(execPath), shellQuote(m.paths.BinaryPath),
		shellQuote(m.paths.BinaryPath),
		installFileScript(tmpPlist, plistPath),
		shellQuote(plistPath))

	if err := m.runner.RunShell(ctx, script); err != nil {
		return fmt.Errorf("helper install failed: %w", err)
	}

	m.logger.Info("helper LaunchDaemon installed", zap.String("plist", plistPath))
	return nil
}

// Remove unloads and deletes the plist and the helper state directory.
// Used as the local cleanup path when the enforcer itself is not running
// to answer an uninstall RPC.
func (m *HelperDaemonManager) Remove(ctx context.Context) error {
	plistPath := m.paths.HelperPlistPath()
	script := fmt.Sprintf("/bin/launchctl unload %s >/dev/null 2>&1 || true; /bin/rm -f %s && /bin/rm -rf %s",
		shellQuote(plistPath), shellQuote(plistPath), shellQuote(m.paths.HelperDir))

	if err := m.runner.RunShell(ctx, script); err != nil {
		return fmt.Errorf("helper removal failed: %w", err)
	}

	m.logger.Info("helper LaunchDaemon removed")
	return nil
}

// DeactivationJob manages the one-shot launchd job ending a timed
// blocking session. At most one job is live; installing a new one tears
// the previous one down first, so a superseded session can never fire a
// stale deactivation.
type DeactivationJob struct {
	plistPath  string
	binaryPath string
	runner     domain.PrivilegedRunner
	logger     *zap.Logger
}

// NewDeactivationJob creates the scheduler for the standard paths.
func NewDeactivationJob(paths *Paths, runner domain.PrivilegedRunner, logger *zap.Logger) *DeactivationJob {
	return &DeactivationJob{
		plistPath:  paths.DeactivationPlistPath(),
		binaryPath: paths.BinaryPath,
		runner:     runner,
		logger:     logger,
	}
}

// NewDeactivationJobWithPaths creates a scheduler against custom paths (for testing).
func NewDeactivationJobWithPaths(plistPath, binaryPath string, runner domain.PrivilegedRunner, logger *zap.Logger) *DeactivationJob {
	return &DeactivationJob{plistPath: plistPath, binaryPath: binaryPath, runner: runner, logger: logger}
}

// PlanSchedule stages the job installation: unload any predecessor,
// install the fresh plist, load it.
func (j *DeactivationJob) PlanSchedule(at time.Time) (domain.ElevatedStep, error) {
	content, err := RenderDeactivationPlist(j.plistPath, j.binaryPath, at)
	if err != nil {
		return domain.ElevatedStep{}, err
	}

	tmpPlist, err := TempFile("nottoday-job-*", content)
	if err != nil {
		return domain.ElevatedStep{}, err
	}

	script := fmt.Sprintf("{ /bin/launchctl unload %s >/dev/null 2>&1 || true; } && %s && /bin/launchctl load %s",
		shellQuote(j.plistPath),
		installFileScript(tmpPlist, j.plistPath),
		shellQuote(j.plistPath))

	return domain.ElevatedStep{
		Script:  script,
		Cleanup: func() { os.Remove(tmpPlist) },
	}, nil
}

// Schedule installs a one-shot job firing at the given wall-clock
// instant, replacing any previous job.
func (j *DeactivationJob) Schedule(ctx context.Context, at time.Time) error {
	step, err := j.PlanSchedule(at)
	if err != nil {
		return err
	}
	if err := domain.RunSteps(ctx, j.runner, step); err != nil {
		return err
	}
	j.logger.Info("deactivation job scheduled", zap.Time("fires_at", at))
	return nil
}

// Cancel removes the pending job. No elevation is spent when no job is
// installed.
func (j *DeactivationJob) Cancel(ctx context.Context) error {
	if _, err := os.Stat(j.plistPath); os.IsNotExist(err) {
		return nil
	}

	script := fmt.Sprintf("{ /bin/launchctl unload %s >/dev/null 2>&1 || true; } && /bin/rm -f %s",
		shellQuote(j.plistPath), shellQuote(j.plistPath))
	if err := j.runner.RunShell(ctx, script); err != nil {
		return err
	}
	j.logger.Info("deactivation job cancelled")
	return nil
}

// RenderDeactivationPlist renders the one-shot job plist for an absolute
// wall-clock trigger. Calendar fields mean a session spanning a DST
// change ends at the nominal wall-clock time, not after the exact elapsed
// duration.
func RenderDeactivationPlist(plistPath, binaryPath string, at time.Time) ([]byte, error) {
	return renderTemplate(deactivationPlistTemplate, deactivationPlistConfig{
		Label:          DeactivationJobLabel,
		ExecutablePath: binaryPath,
		PlistPath:      plistPath,
		Month:          int(at.Month()),
		Day:            at.Day(),
		Hour:           at.Hour(),
		Minute:         at.Minute(),
	})
}

func renderTemplate(tmplStr string, data any) ([]byte, error) {
	tmpl, err := template.New("plist").Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to execute plist template: %w", err)
	}
	return buf.Bytes(), nil
}

var _ domain.DeactivationScheduler = (*DeactivationJob)(nil)
