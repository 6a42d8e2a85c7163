package dist

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/sirupsen/logrus"

	"github.com/rmohr/appbuild/pkg/command"
)

// SourcePackage writes the HEAD commit of the git repository the runner
// works in as a gzipped tarball to output. Every entry is stored below
// prefix. Nothing is written if git fails.
func SourcePackage(ctx context.Context, runner command.Runner, prefix string, output string) error {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	logrus.Infof("Creating source package '%s' ...", output)
	tarball, err := runner.Run(ctx, "git", "archive", "--format=tar", "--prefix="+prefix, "HEAD")
	if err != nil {
		return fmt.Errorf("git archive process failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create source package %s: %v", output, err)
	}
	defer out.Close()

	gz, err := archives.Gz{}.OpenWriter(out)
	if err != nil {
		return err
	}
	if _, err := bytes.NewReader(tarball).WriteTo(gz); err != nil {
		return fmt.Errorf("failed to write source package %s: %v", output, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to write source package %s: %v", output, err)
	}
	return out.Close()
}
