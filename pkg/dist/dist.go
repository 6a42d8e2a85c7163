package dist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	"github.com/sirupsen/logrus"
)

// Format returns the archiver matching the extension of output.
func Format(output string) (archives.Archiver, error) {
	name := strings.ToLower(output)
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return archives.CompressedArchive{
			Compression: archives.Gz{},
			Archival:    archives.Tar{},
		}, nil
	case strings.HasSuffix(name, ".tar"):
		return archives.Tar{}, nil
	case strings.HasSuffix(name, ".zip"):
		return archives.Zip{}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format for %s, use .tar.gz, .tgz, .tar or .zip", output)
	}
}

// Archive writes the contents of dir into output. Entries are stored below
// a top-level directory named after dir.
func Archive(ctx context.Context, dir string, output string) error {
	format, err := Format(output)
	if err != nil {
		return err
	}
	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		dir: filepath.Base(dir),
	})
	if err != nil {
		return fmt.Errorf("failed to collect files of %s: %v", dir, err)
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return err
	}
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %v", output, err)
	}
	defer out.Close()

	logrus.Infof("Archiving '%s' to '%s' ...", dir, output)
	if err := format.Archive(ctx, out, files); err != nil {
		return fmt.Errorf("failed to write archive %s: %v", output, err)
	}
	return out.Close()
}
