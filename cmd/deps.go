package main

import (
	"fmt"

	"github.com/rmohr/appbuild/pkg/ldd"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

type depsOpts struct {
	format      string
	recursive   bool
	libraryPath []string
	ignore      []string
	output      string
}

var depsopts = depsOpts{}

func NewDepsCmd() *cobra.Command {

	depsCmd := &cobra.Command{
		Use:   "deps BINARY...",
		Short: "Determine shared library dependencies of binaries",
		Long:  `Prints the dependency references of each binary, or with --recursive every library file reachable from all of them.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, binaries []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			lister, _, err := binaryTools(depsopts.format, c)
			if err != nil {
				return err
			}

			deps := map[string][]string{}
			if depsopts.recursive {
				ignore := depsopts.ignore
				if !cmd.Flags().Changed("ignore") {
					ignore = c.IgnoreDirs()
				}
				files, err := ldd.Closure(lister, binaries, depsopts.libraryPath, ignore)
				if err != nil {
					return err
				}
				deps["closure"] = files
				binaries = []string{"closure"}
			} else {
				for _, binary := range binaries {
					refs, err := lister.Dependencies(binary)
					if err != nil {
						return fmt.Errorf("could not list dependencies of %s: %v", binary, err)
					}
					deps[binary] = refs
				}
			}

			switch depsopts.output {
			case "yaml":
				data, err := yaml.Marshal(deps)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(data))
			case "text":
				for _, binary := range binaries {
					if !depsopts.recursive {
						fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", binary)
					}
					for _, dep := range deps[binary] {
						fmt.Fprintf(cmd.OutOrStdout(), "\t%s\n", dep)
					}
				}
			default:
				return fmt.Errorf("unknown output format '%s', use text or yaml", depsopts.output)
			}
			return nil
		},
	}

	depsCmd.Flags().StringVarP(&depsopts.format, "format", "f", "auto", "binary format: macho, otool, elf or auto")
	depsCmd.Flags().BoolVarP(&depsopts.recursive, "recursive", "r", false, "print every library file reachable from the binaries")
	depsCmd.Flags().StringArrayVarP(&depsopts.libraryPath, "library-path", "l", nil, "directory searched for libraries referenced by name only, can be given multiple times")
	depsCmd.Flags().StringArrayVar(&depsopts.ignore, "ignore", nil, "directory whose libraries are not followed, can be given multiple times (defaults to the system library directories)")
	depsCmd.Flags().StringVarP(&depsopts.output, "output", "o", "text", "output format: text or yaml")
	return depsCmd
}
