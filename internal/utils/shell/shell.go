package shell

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/scottjg/nvidia-armsbc/internal/utils/logger"
)

// Executor runs shell command strings. Default is swapped for a MockExecutor
// in tests so callers never spawn real subprocesses.
type Executor interface {
	Exec(cmdStr string, sudo bool, dir string, envVal []string) (string, error)
	ExecStream(cmdStr string, sudo bool, dir string, envVal []string) (string, error)
}

var Default Executor = &systemExecutor{}

// ExecCmd executes a command and returns its combined output. dir, when
// non-empty, is the working directory for the command.
func ExecCmd(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	return Default.Exec(cmdStr, sudo, dir, envVal)
}

// ExecCmdWithStream executes a command and streams its output line by line
// through the logger; used for long-running package and container builds.
func ExecCmdWithStream(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	return Default.ExecStream(cmdStr, sudo, dir, envVal)
}

// IsCommandExist checks if a command is available on the host.
func IsCommandExist(cmd string) (bool, error) {
	output, err := Default.Exec("command -v "+cmd, false, "", nil)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(output) != "", nil
}

// getShell returns the preferred shell, falling back to /bin/sh if bash is not available
func getShell() string {
	shells := []string{"/bin/bash", "/usr/bin/bash", "/bin/sh"}
	for _, shell := range shells {
		if _, err := os.Stat(shell); err == nil {
			return shell
		}
	}
	return "/bin/sh" // fallback
}

// FullCmdStr prepares a command string with sudo and environment prefixes.
func FullCmdStr(cmdStr string, sudo bool, envVal []string) string {
	envValStr := ""
	for _, env := range envVal {
		envValStr += env + " "
	}

	if sudo {
		return "sudo " + envValStr + cmdStr
	}
	return envValStr + cmdStr
}

type systemExecutor struct{}

func (e *systemExecutor) Exec(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	log := logger.Logger()
	fullCmdStr := FullCmdStr(cmdStr, sudo, envVal)

	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return "", fmt.Errorf("working directory %s does not exist", dir)
		}
	}
	log.Debugf("Exec: [%s]", fullCmdStr)

	cmd := exec.Command(getShell(), "-c", fullCmdStr)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	outputStr := string(output)

	if err != nil {
		if outputStr != "" {
			log.Infof(outputStr)
		}
		return outputStr, fmt.Errorf("failed to exec %s: %w", fullCmdStr, err)
	}
	if outputStr != "" {
		log.Debugf(outputStr)
	}
	return outputStr, nil
}

func (e *systemExecutor) ExecStream(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	var outputStr string
	log := logger.Logger()
	fullCmdStr := FullCmdStr(cmdStr, sudo, envVal)

	if dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return "", fmt.Errorf("working directory %s does not exist", dir)
		}
	}
	log.Debugf("Exec: [%s]", fullCmdStr)

	cmd := exec.Command(getShell(), "-c", fullCmdStr)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stdout pipe for command %s: %w", fullCmdStr, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to get stderr pipe for command %s: %w", fullCmdStr, err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start command %s: %w", fullCmdStr, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				outputStr += str + "\n"
				log.Infof(str)
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			str := scanner.Text()
			if str != "" {
				log.Infof(str)
			}
		}
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return outputStr, fmt.Errorf("failed to wait for command %s: %w", fullCmdStr, err)
	}

	return outputStr, nil
}
