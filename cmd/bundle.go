package main

import (
	"github.com/rmohr/appbuild/pkg/bundle"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type bundleOpts struct {
	installPath   string
	bundleDir     string
	ignore        []string
	executable    string
	dependencyMap map[string]string
	searchPath    []string
	format        string
}

var bundleopts = bundleOpts{}

func NewBundleCmd() *cobra.Command {

	bundleCmd := &cobra.Command{
		Use:   "bundle BINARY...",
		Short: "Copy the shared libraries of binaries into a bundle directory and relink them",
		Long: `Copies every shared library the given binaries depend on, which is not below an ignored directory, into the bundle directory,
recursively, and rewrites all references to point to the install path. All binaries share one bundle directory, so a library used by several of them is copied once.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, binaries []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			lister, rewriter, err := binaryTools(bundleopts.format, c)
			if err != nil {
				return err
			}
			ignore := bundleopts.ignore
			if !cmd.Flags().Changed("ignore") {
				ignore = c.IgnoreDirs()
			}

			resolver := bundle.NewResolver(lister, rewriter)
			for _, binary := range binaries {
				logrus.Infof("Copying dependencies for '%s' ...", binary)
				err := resolver.Resolve(binary, bundle.Options{
					InstallPath:    bundleopts.installPath,
					BundleDir:      bundleopts.bundleDir,
					Ignore:         ignore,
					ExecutableRoot: bundleopts.executable,
					DependencyMap:  bundleopts.dependencyMap,
					SearchPaths:    bundleopts.searchPath,
				})
				if err != nil {
					return err
				}
			}
			logrus.Infof("Bundled %d libraries into '%s'", len(resolver.Bundled()), bundleopts.bundleDir)
			return nil
		},
	}

	bundleCmd.Flags().StringVarP(&bundleopts.installPath, "install-path", "i", "@executable_path/../Frameworks/", "install path the rewritten references use")
	bundleCmd.Flags().StringVarP(&bundleopts.bundleDir, "bundle-dir", "b", "", "directory receiving the copied libraries")
	bundleCmd.Flags().StringArrayVar(&bundleopts.ignore, "ignore", nil, "directory whose libraries are never bundled, can be given multiple times (defaults to the system library directories)")
	bundleCmd.Flags().StringVarP(&bundleopts.executable, "executable", "e", "", "executable relative references are resolved against (defaults to each binary)")
	bundleCmd.Flags().StringToStringVar(&bundleopts.dependencyMap, "dependency-map", map[string]string{}, "references of already bundled libraries by base name (--dependency-map=QtCore=@executable_path/../Frameworks/QtCore.framework/Versions/4/QtCore)")
	bundleCmd.Flags().StringArrayVar(&bundleopts.searchPath, "search-path", nil, "directory searched for libraries referenced by name only, can be given multiple times")
	bundleCmd.Flags().StringVarP(&bundleopts.format, "format", "f", "auto", "binary format: macho, otool, elf or auto")
	bundleCmd.MarkFlagRequired("bundle-dir")
	return bundleCmd
}
