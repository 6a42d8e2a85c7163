package main

import (
	"path/filepath"

	"github.com/rmohr/appbuild/pkg/build"
	"github.com/rmohr/appbuild/pkg/command"
	"github.com/rmohr/appbuild/pkg/config"
	"github.com/rmohr/appbuild/pkg/ldd"
	"github.com/rmohr/appbuild/pkg/relink"
	"github.com/spf13/cobra"
)

type buildOpts struct {
	buildDir    string
	makeDir     string
	prefix      string
	debug       bool
	skipAPIDocs bool
	skipHeaders bool
	skipPlugins map[string]*bool
	archive     string
}

var buildopts = buildOpts{skipPlugins: map[string]*bool{}}

func NewBuildCmd() *cobra.Command {

	buildCmd := &cobra.Command{
		Use:   "build [qmake-args]",
		Short: "Build and package the application",
		Long:  `Writes the templates, runs qmake, make and doxygen and bundles the shared libraries of the application on macOS. Remaining arguments are passed to qmake.`,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if err := applyBuildFlags(cmd, c, args); err != nil {
				return err
			}
			if err := c.Validate(); err != nil {
				return err
			}
			if err := requireTools(buildTools(c)...); err != nil {
				return err
			}

			runner := &command.Exec{}
			builder := &build.Builder{
				Config:   c,
				Runner:   &command.Exec{Dir: c.ScriptDir, Passthrough: true},
				Lister:   ldd.MachO{},
				Rewriter: &relink.InstallNameTool{Runner: runner, Tool: c.Tools.InstallNameTool},
			}
			if c.Bundle.UseOtool {
				builder.Lister = &ldd.Otool{Runner: runner, Tool: c.Tools.Otool}
			}
			return builder.Run(cmd.Context())
		},
	}

	buildCmd.Flags().StringVarP(&buildopts.buildDir, "build-dir", "b", "", "build directory (defaults to <source-dir>/build)")
	buildCmd.Flags().StringVarP(&buildopts.makeDir, "make-dir", "m", "", "make directory (defaults to <source-dir>/make)")
	buildCmd.Flags().StringVarP(&buildopts.prefix, "prefix", "p", "", "install prefix (defaults to the platform's prefix)")
	buildCmd.Flags().BoolVarP(&buildopts.debug, "debug", "d", false, "build a debug executable")
	buildCmd.Flags().BoolVar(&buildopts.skipAPIDocs, "skip-api-docs", false, "don't build API documentation")
	buildCmd.Flags().BoolVar(&buildopts.skipHeaders, "skip-headers", false, "don't build API headers")
	for _, plugin := range config.Plugins {
		skip := new(bool)
		buildopts.skipPlugins[plugin.Name] = skip
		buildCmd.Flags().BoolVar(skip, "skip-"+plugin.Name, false, "don't build the "+plugin.Name+" plugin")
	}
	buildCmd.Flags().StringVar(&buildopts.archive, "archive", "", "write the build directory to this .tar.gz or .zip archive after a successful build")
	return buildCmd
}

// applyBuildFlags overrides the configuration with the flags given on the
// command line.
func applyBuildFlags(cmd *cobra.Command, c *config.Config, qmakeArgs []string) error {
	flags := cmd.Flags()
	var err error
	if flags.Changed("build-dir") {
		if c.BuildDir, err = filepath.Abs(buildopts.buildDir); err != nil {
			return err
		}
	}
	if flags.Changed("make-dir") {
		if c.MakeDir, err = filepath.Abs(buildopts.makeDir); err != nil {
			return err
		}
	}
	if flags.Changed("prefix") {
		if c.Prefix, err = filepath.Abs(buildopts.prefix); err != nil {
			return err
		}
	}
	if flags.Changed("archive") {
		if c.Archive, err = filepath.Abs(buildopts.archive); err != nil {
			return err
		}
	}
	if flags.Changed("debug") {
		c.Debug = buildopts.debug
	}
	if flags.Changed("skip-api-docs") {
		c.SkipAPIDocs = buildopts.skipAPIDocs
	}
	if flags.Changed("skip-headers") {
		c.SkipHeaders = buildopts.skipHeaders
	}
	for _, plugin := range config.Plugins {
		if *buildopts.skipPlugins[plugin.Name] {
			c.SkipPlugins = append(c.SkipPlugins, plugin.Name)
		}
	}
	c.QMakeArgs = append(c.QMakeArgs, qmakeArgs...)
	return nil
}

// buildTools lists the tools the configured pipeline runs.
func buildTools(c *config.Config) []string {
	tools := []string{c.Tools.QMake, c.Tools.Make}
	if !c.SkipAPIDocs {
		tools = append(tools, c.Tools.Doxygen)
	}
	if c.BundlesLibraries() {
		tools = append(tools, c.Tools.MacDeployQt, c.Tools.InstallNameTool)
		if c.Bundle.UseOtool {
			tools = append(tools, c.Tools.Otool)
		}
	}
	return tools
}
