package shell

import (
	"fmt"
	"strings"
)

// MockCommand pairs a command substring with the output and error the mock
// executor should return for it.
type MockCommand struct {
	Pattern string
	Output  string
	Error   error
}

// MockExecutor matches executed command strings against registered patterns,
// first match wins. It records every command it sees so tests can assert on
// what ran; a command matching no pattern is an error.
type MockExecutor struct {
	commands []MockCommand
	Calls    []string
}

func NewMockExecutor(commands []MockCommand) *MockExecutor {
	return &MockExecutor{commands: commands}
}

func (m *MockExecutor) Exec(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	full := FullCmdStr(cmdStr, sudo, envVal)
	m.Calls = append(m.Calls, full)
	for _, mc := range m.commands {
		if mc.Pattern != "" && strings.Contains(full, mc.Pattern) {
			return mc.Output, mc.Error
		}
	}
	return "", fmt.Errorf("mock executor: no pattern matches command %q", full)
}

func (m *MockExecutor) ExecStream(cmdStr string, sudo bool, dir string, envVal []string) (string, error) {
	return m.Exec(cmdStr, sudo, dir, envVal)
}
