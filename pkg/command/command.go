package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner runs an external tool and returns what it wrote to stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExitError struct {
	Name   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

func (e *ExitError) Unwrap() error { return e.Err }

// Exec runs tools on the host. Dir, when set, is the working directory of
// every command.
type Exec struct {
	Dir string
	// Passthrough forwards stdout to the logger instead of capturing it, for
	// long running build tools.
	Passthrough bool
}

func (e *Exec) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	logrus.Debugf("Running %s %s", name, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.Dir

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	if e.Passthrough {
		out := logrus.StandardLogger().WriterLevel(logrus.InfoLevel)
		defer out.Close()
		errOut := logrus.StandardLogger().WriterLevel(logrus.WarnLevel)
		defer errOut.Close()
		cmd.Stdout = out
		cmd.Stderr = errOut
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	if err := cmd.Run(); err != nil {
		return nil, &ExitError{Name: name, Args: args, Stderr: stderr.String(), Err: err}
	}
	if stderr.Len() > 0 {
		logrus.Debugf("%s: %s", name, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// LookPath resolves a tool name, failing with a message naming the tool.
func LookPath(name string) (string, error) {
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("could not find %s: %v", name, err)
	}
	return p, nil
}
