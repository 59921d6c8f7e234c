package infra

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nottoday/nottoday/internal/domain"
)

// ProcessManagerImpl implements domain.ProcessManager using gopsutil.
type ProcessManagerImpl struct{}

// NewProcessManager creates a new process manager.
func NewProcessManager() domain.ProcessManager {
	return &ProcessManagerImpl{}
}

// IsRunning checks if a PID exists and is running.
func (pm *ProcessManagerImpl) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	running, err := process.PidExists(int32(pid))
	if err != nil {
		// Fall back to signal 0 if gopsutil cannot answer.
		proc, ferr := os.FindProcess(pid)
		if ferr != nil {
			return false
		}
		return proc.Signal(syscall.Signal(0)) == nil
	}
	return running
}

// GetCurrentPID returns the current process PID.
func (pm *ProcessManagerImpl) GetCurrentPID() int {
	return os.Getpid()
}

// PIDFile registers the enforcer daemon's PID so the application can
// report helper liveness even when the RPC socket is not answering.
type PIDFile struct {
	path string
	pm   domain.ProcessManager
}

// NewPIDFile creates a PID file handle at the given path.
func NewPIDFile(path string, pm domain.ProcessManager) *PIDFile {
	return &PIDFile{path: path, pm: pm}
}

// Write records the current PID atomically.
func (p *PIDFile) Write() error {
	pid := p.pm.GetCurrentPID()
	return atomicWriteFile(p.path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

// Read returns the recorded PID, or 0 when none is registered.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// Alive reports whether the registered process is still running.
func (p *PIDFile) Alive() bool {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return false
	}
	return p.pm.IsRunning(pid)
}

// Remove clears the registration.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

var _ domain.ProcessManager = (*ProcessManagerImpl)(nil)
