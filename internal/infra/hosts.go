package infra

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nottoday/nottoday/internal/domain"
)

// Managed section markers. Load-bearing for compatibility: removal and
// detection match these exact lines wherever they appear in the file.
const (
	SectionStart = "# NotToday START - DO NOT EDIT THIS SECTION"
	SectionEnd   = "# NotToday END"
)

// sectionPattern matches the whole managed section including both marker
// lines. Only one section should ever exist, so greedy matching is fine.
var sectionPattern = regexp.MustCompile(
	`(?ms)^` + regexp.QuoteMeta(SectionStart) + `.*?^` + regexp.QuoteMeta(SectionEnd) + `\n?`)

// HostsFile edits the managed section of the system hosts file. All
// writes are read-modify-write: the section is stripped and re-rendered in
// memory, and the full new content is installed in a single operation via
// the privileged runner, so the file is never observed half-edited.
type HostsFile struct {
	path   string
	runner domain.PrivilegedRunner
	logger *zap.Logger
}

// NewHostsFile edits the system hosts file at /etc/hosts.
func NewHostsFile(runner domain.PrivilegedRunner, logger *zap.Logger) *HostsFile {
	return NewHostsFileWithPath(HostsPath, runner, logger)
}

// NewHostsFileWithPath edits a hosts file at a custom path (for testing).
func NewHostsFileWithPath(path string, runner domain.PrivilegedRunner, logger *zap.Logger) *HostsFile {
	return &HostsFile{path: path, runner: runner, logger: logger}
}

// CurrentlyBlocking reports whether the managed section is present.
// Reading needs no privileges; the hosts file is world-readable.
func (h *HostsFile) CurrentlyBlocking() (bool, error) {
	content, err := h.read()
	if err != nil {
		return false, err
	}
	return strings.Contains(content, SectionStart), nil
}

// CurrentSites extracts the second token of each loopback-redirect line
// inside the managed section, in file order.
func (h *HostsFile) CurrentSites() ([]string, error) {
	content, err := h.read()
	if err != nil {
		return nil, err
	}

	section := sectionPattern.FindString(content)
	if section == "" {
		return nil, nil
	}

	var sites []string
	for _, line := range strings.Split(section, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "127.0.0.1" {
			sites = append(sites, fields[1])
		}
	}
	return sites, nil
}

// Activate strips any existing managed section and appends a fresh one
// listing the sites in input order. Idempotent: a second call with the
// same list produces identical content.
func (h *HostsFile) Activate(ctx context.Context, sites []string) error {
	step, err := h.PlanActivate(sites)
	if err != nil {
		return err
	}
	if err := domain.RunSteps(ctx, h.runner, step); err != nil {
		return wrapWriteErr(err)
	}
	if step.Script != "" {
		h.logger.Info("hosts blocking activated", zap.Int("sites", len(sites)))
	}
	return nil
}

// PlanActivate stages the activation without executing it, so callers can
// combine it with other privileged steps under one authorization. An
// empty step means the file already carries exactly this section.
func (h *HostsFile) PlanActivate(sites []string) (domain.ElevatedStep, error) {
	content, err := h.read()
	if err != nil {
		return domain.ElevatedStep{}, err
	}

	updated := appendSection(stripSection(content), sites)
	if updated == content {
		return domain.ElevatedStep{}, nil
	}
	return h.planInstall(updated)
}

// Deactivate strips the managed section if present. No-op when the file
// carries no section.
func (h *HostsFile) Deactivate(ctx context.Context) error {
	content, err := h.read()
	if err != nil {
		return err
	}

	stripped := stripSection(content)
	if stripped == content {
		return nil
	}

	step, err := h.planInstall(stripped)
	if err != nil {
		return err
	}
	if err := domain.RunSteps(ctx, h.runner, step); err != nil {
		return wrapWriteErr(err)
	}
	h.logger.Info("hosts blocking deactivated")
	return nil
}

func (h *HostsFile) read() (string, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		return "", &domain.HostsIOError{Op: "read", Err: err}
	}
	return string(data), nil
}

// planInstall stages the complete new content in a temp file and renders
// the fragment that installs it atomically and flushes the resolver
// cache. The flush is best effort; its failure only means blocked sites
// may stay reachable briefly via cached resolution, so it never fails the
// overall operation.
func (h *HostsFile) planInstall(content string) (domain.ElevatedStep, error) {
	tmpPath, err := TempFile("nottoday-hosts-*", []byte(content))
	if err != nil {
		return domain.ElevatedStep{}, &domain.HostsIOError{Op: "write", Err: err}
	}

	script := installFileScript(tmpPath, h.path) +
		" && { dscacheutil -flushcache >/dev/null 2>&1 || true; killall -HUP mDNSResponder >/dev/null 2>&1 || true; }"

	return domain.ElevatedStep{
		Script:  script,
		Cleanup: func() { os.Remove(tmpPath) },
	}, nil
}

func wrapWriteErr(err error) error {
	if err == nil || errors.Is(err, domain.ErrAuthorizationDeclined) {
		return err
	}
	return &domain.HostsIOError{Op: "write", Err: err}
}

// stripSection removes the managed section wherever it appears, tolerant
// of its absence.
func stripSection(content string) string {
	return sectionPattern.ReplaceAllString(content, "")
}

// appendSection renders a fresh managed section after the existing
// content, one loopback-redirect line per site in input order.
func appendSection(content string, sites []string) string {
	var b strings.Builder
	b.WriteString(content)
	if content != "" && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(SectionStart)
	b.WriteString("\n")
	for _, site := range sites {
		fmt.Fprintf(&b, "127.0.0.1 %s\n", site)
	}
	b.WriteString(SectionEnd)
	b.WriteString("\n")
	return b.String()
}

var _ domain.HostsEditor = (*HostsFile)(nil)
