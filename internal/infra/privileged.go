package infra

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
)

// DirectRunner executes privileged shell fragments in-process. Used when
// the process already runs as root (the enforcer daemon, sudo'd CLI) and
// in tests against throwaway paths.
type DirectRunner struct{}

// NewDirectRunner creates a runner that assumes sufficient privileges.
func NewDirectRunner() *DirectRunner {
	return &DirectRunner{}
}

// RunShell executes the fragment with /bin/sh.
func (r *DirectRunner) RunShell(ctx context.Context, script string) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", script)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell command failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// AdminPromptRunner executes privileged shell fragments through the macOS
// interactive authorization prompt (osascript "with administrator
// privileges"). The prompt can block for as long as the user takes, so
// callers run these off their timer loops. Each RunShell call is one
// prompt; combine steps with domain.RunSteps to keep it to one per user
// action. Cancelling the context abandons the intent but cannot dismiss
// an already-shown OS prompt.
type AdminPromptRunner struct {
	logger *zap.Logger
}

// NewAdminPromptRunner creates a prompting runner.
func NewAdminPromptRunner(logger *zap.Logger) *AdminPromptRunner {
	return &AdminPromptRunner{logger: logger}
}

// RunShell executes the fragment in one elevated shell.
func (r *AdminPromptRunner) RunShell(ctx context.Context, script string) error {
	osa := fmt.Sprintf("do shell script %q with administrator privileges", script)
	cmd := exec.CommandContext(ctx, "osascript", "-e", osa)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	// osascript reports a dismissed prompt as error -128 ("User canceled").
	if strings.Contains(stderr.String(), "User canceled") ||
		strings.Contains(stderr.String(), "-128") {
		r.logger.Info("authorization prompt declined")
		return domain.ErrAuthorizationDeclined
	}

	return fmt.Errorf("elevated command failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
}

// shellQuote wraps a path for safe interpolation into a shell fragment.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// installFileScript renders the fragment that atomically replaces dst
// with src's content: copy beside the target, then rename into place, so
// readers never observe a partial file.
func installFileScript(src, dst string) string {
	tmp := dst + ".nottoday.tmp"
	return fmt.Sprintf("/bin/cp %s %s && /bin/mv -f %s %s",
		shellQuote(src), shellQuote(tmp), shellQuote(tmp), shellQuote(dst))
}

// TempFile writes data to a fresh file in the system temp directory and
// returns its path. The caller removes it after installation.
func TempFile(prefix string, data []byte) (string, error) {
	f, err := os.CreateTemp("", prefix)
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	// World-readable so the elevated copy yields sane permissions.
	if err := os.Chmod(path, 0644); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

var _ domain.PrivilegedRunner = (*DirectRunner)(nil)
var _ domain.PrivilegedRunner = (*AdminPromptRunner)(nil)
