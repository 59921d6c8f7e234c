// Package infra implements infrastructure concerns (hosts file, config
// stores, launchd, privileged execution, RPC plumbing).
package infra

import (
	"os"
	"path/filepath"
)

// ExecMode represents the execution mode of the current process.
type ExecMode string

const (
	// ExecModeUser is the primary application running as the logged-in user.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem is the privileged enforcer running as root.
	ExecModeSystem ExecMode = "system"
)

const (
	// HelperLabel is the LaunchDaemon label of the privileged enforcer.
	HelperLabel = "com.nottoday.helper"

	// DeactivationJobLabel is the label of the one-shot job that ends a
	// timed blocking session.
	DeactivationJobLabel = "com.nottoday.deactivate"

	// HostsPath is the shared system resource both processes mutate.
	HostsPath = "/etc/hosts"

	// HelperSocketPath is the unix socket the enforcer answers RPC on.
	// Root-owned, mode 0600.
	HelperSocketPath = "/var/run/nottoday.helper.sock"
)

// Paths holds the filesystem layout for the current execution mode.
type Paths struct {
	Mode       ExecMode
	ConfigPath string // primary app Configuration (user mode)
	HelperDir  string // enforcer state directory (system mode)
	HelperCfg  string // persisted HelperConfiguration
	HelperPID  string // enforcer PID file
	BinaryPath string // installed binary location for the LaunchDaemon
	PlistDir   string
	LogPath    string
	IsRoot     bool
}

// DetectPaths determines the layout based on effective UID.
func DetectPaths() *Paths {
	if os.Geteuid() == 0 {
		return systemPaths()
	}
	home, _ := os.UserHomeDir()
	return userPaths(home)
}

func systemPaths() *Paths {
	helperDir := "/Library/Application Support/NotToday"
	return &Paths{
		Mode:       ExecModeSystem,
		ConfigPath: filepath.Join(helperDir, "config.json"),
		HelperDir:  helperDir,
		HelperCfg:  filepath.Join(helperDir, "helper.json"),
		HelperPID:  filepath.Join(helperDir, "helper.pid"),
		BinaryPath: "/usr/local/bin/nottoday",
		PlistDir:   "/Library/LaunchDaemons",
		LogPath:    "/var/log/nottoday.log",
		IsRoot:     true,
	}
}

func userPaths(home string) *Paths {
	appDir := filepath.Join(home, "Library", "Application Support", "NotToday")
	return &Paths{
		Mode:       ExecModeUser,
		ConfigPath: filepath.Join(appDir, "config.json"),
		HelperDir:  "/Library/Application Support/NotToday",
		HelperCfg:  "/Library/Application Support/NotToday/helper.json",
		HelperPID:  "/Library/Application Support/NotToday/helper.pid",
		BinaryPath: "/usr/local/bin/nottoday",
		PlistDir:   "/Library/LaunchDaemons",
		LogPath:    filepath.Join(home, "Library", "Logs", "nottoday.log"),
		IsRoot:     false,
	}
}

// HelperPlistPath is where the enforcer LaunchDaemon plist lives.
func (p *Paths) HelperPlistPath() string {
	return filepath.Join(p.PlistDir, HelperLabel+".plist")
}

// DeactivationPlistPath is where the one-shot deactivation job plist lives.
func (p *Paths) DeactivationPlistPath() string {
	return filepath.Join(p.PlistDir, DeactivationJobLabel+".plist")
}
