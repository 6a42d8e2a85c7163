package main

import (
	"fmt"
	"path/filepath"

	"github.com/rmohr/appbuild/pkg/command"
	"github.com/rmohr/appbuild/pkg/dist"
	"github.com/spf13/cobra"
)

func NewSourcePackageCmd() *cobra.Command {

	sourcePackageCmd := &cobra.Command{
		Use:   "source-package [OUTPUT]",
		Short: "Write the committed source tree as a gzipped tarball",
		Long:  `Runs git archive on HEAD of the source directory. The output defaults to <name>-<version>.tar.gz, every entry is stored below <name>-<version>/.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if err := requireTools("git"); err != nil {
				return err
			}
			prefix := fmt.Sprintf("%s-%s", c.Name, c.Version.String())
			output := prefix + ".tar.gz"
			if len(args) == 1 {
				output = args[0]
			}
			if output, err = filepath.Abs(output); err != nil {
				return err
			}
			return dist.SourcePackage(cmd.Context(), &command.Exec{Dir: c.ScriptDir}, prefix, output)
		},
	}
	return sourcePackageCmd
}
