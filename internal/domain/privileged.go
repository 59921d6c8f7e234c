package domain

import (
	"context"
	"strings"
)

// ElevatedStep is a staged privileged operation: a shell fragment ready to
// execute plus cleanup of any temp files it staged. Steps from different
// components can be combined into one elevation so a timed activation
// (hosts rewrite + scheduled deactivation job) costs a single
// authorization prompt.
type ElevatedStep struct {
	Script  string
	Cleanup func()
}

// RunSteps executes the given steps under one elevation and then runs
// their cleanups.
func RunSteps(ctx context.Context, runner PrivilegedRunner, steps ...ElevatedStep) error {
	var scripts []string
	for _, s := range steps {
		if s.Cleanup != nil {
			defer s.Cleanup()
		}
		if s.Script != "" {
			scripts = append(scripts, s.Script)
		}
	}
	if len(scripts) == 0 {
		return nil
	}
	return runner.RunShell(ctx, strings.Join(scripts, " && "))
}
