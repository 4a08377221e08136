package runner

import (
	"fmt"
	"os"
	"os/exec"
)

// CommandBuilder returns the command that runs one unit in a fresh child
// process. The command must not be bound to a context: in-flight children
// are never killed by the parent.
type CommandBuilder func(payload []byte) (*exec.Cmd, error)

// SelfCommandBuilder re-executes the current binary in worker mode from
// workDir.
func SelfCommandBuilder(workDir string) CommandBuilder {
	return func(payload []byte) (*exec.Cmd, error) {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate own executable: %w", err)
		}
		cmd := exec.Command(exe, WorkerCommand, PayloadFlag, string(payload))
		cmd.Dir = workDir
		cmd.Env = os.Environ()
		return cmd, nil
	}
}
