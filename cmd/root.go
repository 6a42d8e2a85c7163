package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type rootOpts struct {
	verbose    bool
	configFile string
	sourceDir  string
}

var rootopts = rootOpts{}

var rootCmd = &cobra.Command{
	Use:   "appbuild",
	Short: "appbuild builds synthclone and packages it for distribution",
	Long: `The tool renders the generated headers and config files, drives qmake and make, builds the API documentation and,
on macOS, copies every third-party shared library into the application bundle and relinks it, so that the bundle runs on machines without the build dependencies`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootopts.verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func Execute() {
	rootCmd.PersistentFlags().BoolVarP(&rootopts.verbose, "verbose", "v", false, "log every tool invocation")
	rootCmd.PersistentFlags().StringVarP(&rootopts.configFile, "config", "c", "", "build configuration file (defaults to appbuild/config.yaml in the XDG config directories)")
	rootCmd.PersistentFlags().StringVarP(&rootopts.sourceDir, "source-dir", "s", ".", "source tree to build")

	rootCmd.AddCommand(NewBuildCmd())
	rootCmd.AddCommand(NewBundleCmd())
	rootCmd.AddCommand(NewDepsCmd())
	rootCmd.AddCommand(NewSourcePackageCmd())
	rootCmd.AddCommand(NewTemplateCmd())
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
