package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"testing"

	"go.uber.org/zap"
)

func TestExecCommander(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	c := ExecCommander{Logger: zap.NewNop()}

	var out bytes.Buffer
	if err := c.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "printf hello"}, Stdout: &out}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.String() != "hello" {
		t.Errorf("expected hello, got %q", out.String())
	}

	err := c.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}, Stdout: &out})
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %v", err)
	}
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "git", Args: []string{"clone", "u", "git-repo"}}
	if c.String() != "git clone u git-repo" {
		t.Errorf("unexpected command string %q", c.String())
	}
}
