package ldd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/rmohr/appbuild/pkg/command"
)

const compatibilityMarker = " (compatibility "

// UnexpectedLineError is returned for otool output lines which are neither
// a header nor a dependency entry.
type UnexpectedLineError string

func (e UnexpectedLineError) Error() string {
	return fmt.Sprintf("unexpected line output from otool: %q", string(e))
}

// Otool lists dependencies by running otool(1), for hosts where the
// references must match exactly what Apple's tools report.
type Otool struct {
	Runner command.Runner
	// Tool defaults to "otool".
	Tool string
}

func (o *Otool) Dependencies(binary string) ([]string, error) {
	tool := o.Tool
	if tool == "" {
		tool = "otool"
	}
	out, err := o.Runner.Run(context.Background(), tool, "-L", binary)
	if err != nil {
		return nil, err
	}
	deps, err := ParseOtool(out)
	if err != nil {
		return nil, err
	}
	out, err = o.Runner.Run(context.Background(), tool, "-D", binary)
	if err != nil {
		return nil, err
	}
	id := ParseOtoolID(out)
	if id == "" || len(deps) == 0 || deps[0] != id {
		return deps, nil
	}
	return deps[1:], nil
}

// ParseOtool parses `otool -L` output. Header lines ("file:" or
// "file (architecture x86_64):") are skipped and entries repeated for
// several architectures are reported once.
func ParseOtool(out []byte) ([]string, error) {
	var deps []string
	discovered := map[string]struct{}{}
	s := bufio.NewScanner(bytes.NewReader(out))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		pos := strings.Index(line, compatibilityMarker)
		if pos == -1 {
			return nil, UnexpectedLineError(line)
		}
		dep := strings.TrimSpace(line[:pos])
		if _, exists := discovered[dep]; !exists {
			discovered[dep] = struct{}{}
			deps = append(deps, dep)
		}
	}
	return deps, s.Err()
}

// ParseOtoolID returns the install name from `otool -D` output, or "" for
// binaries without one.
func ParseOtoolID(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		return line
	}
	return ""
}
