// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package bootstrap

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Command describes one subprocess invocation.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Stdout io.Writer // os.Stderr when nil; stdout carries the console protocol
	Stderr io.Writer // os.Stderr when nil
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Commander runs subprocesses. A non-zero exit is reported as an error.
type Commander interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecCommander runs commands on the host.
type ExecCommander struct {
	Logger *zap.Logger
}

// Run executes cmd and waits for it to finish.
func (e ExecCommander) Run(ctx context.Context, cmd Command) error {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Stdout = cmd.Stdout
	if c.Stdout == nil {
		c.Stdout = os.Stderr
	}
	c.Stderr = cmd.Stderr
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	start := time.Now()
	err := c.Run()
	if e.Logger != nil {
		e.Logger.Debug("command finished",
			zap.String("cmd", cmd.String()),
			zap.String("dir", cmd.Dir),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
	}
	return err
}
