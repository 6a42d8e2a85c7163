package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rmohr/appbuild/pkg/bundle"
)

// Layout names the parts of the application bundle the Bundle step touches.
type Layout struct {
	AppDir        string
	Executable    string
	FrameworksDir string
	PluginsDir    string
	Library       string
}

func (b *Builder) Layout() Layout {
	c := b.Config
	appDir := filepath.Join(c.BuildDir, "Applications", c.Name+".app")
	contentsDir := filepath.Join(appDir, "Contents")
	return Layout{
		AppDir:        appDir,
		Executable:    filepath.Join(contentsDir, "MacOS", c.Name),
		FrameworksDir: filepath.Join(contentsDir, "Frameworks"),
		PluginsDir:    filepath.Join(contentsDir, "PlugIns"),
		Library:       filepath.Join(c.BuildDir, c.FrameworkDir(), "Versions", c.Version.String(), c.Name),
	}
}

// Bundle makes the application bundle self-contained. macdeployqt relocates
// Qt and the executable's own libraries first; the references it produced
// are then reused for the plugins and the exported library, whose remaining
// third-party dependencies are copied into the bundle.
func (b *Builder) Bundle(ctx context.Context) error {
	c := b.Config
	if !c.BundlesLibraries() {
		return nil
	}
	l := b.Layout()

	logrus.Infof("Copying dependencies for '%s' ...", l.Executable)
	if _, err := b.Runner.Run(ctx, c.Tools.MacDeployQt, l.AppDir); err != nil {
		return fmt.Errorf("macdeployqt returned an error: %w", err)
	}

	dependencyMap, err := bundle.MapDependencies(b.Lister, l.Executable, c.Bundle.MappedPrefix)
	if err != nil {
		return err
	}
	logrus.Debugf("Libraries relocated by macdeployqt: %v", sortedData(dependencyMap))

	resolver := bundle.NewResolver(b.Lister, b.Rewriter)
	opts := bundle.Options{
		InstallPath:    c.Bundle.FrameworksPath,
		BundleDir:      l.FrameworksDir,
		Ignore:         c.IgnoreDirs(),
		ExecutableRoot: l.Executable,
		DependencyMap:  dependencyMap,
	}
	if err := resolver.Resolve(l.Executable, opts); err != nil {
		return err
	}

	plugins, err := listPlugins(l.PluginsDir)
	if err != nil {
		return err
	}
	for _, plugin := range plugins {
		location := strings.TrimSuffix(c.Bundle.PluginsPath, "/") + "/" + filepath.Base(plugin)
		logrus.Infof("Setting library location of '%s' to '%s' ...", plugin, location)
		if err := b.Rewriter.SetLocation(plugin, location); err != nil {
			return &bundle.RewriteFailedError{Binary: plugin, Replace: location, Err: err}
		}
		logrus.Infof("Copying dependencies for '%s' ...", plugin)
		if err := resolver.Resolve(plugin, opts); err != nil {
			return err
		}
	}

	logrus.Infof("Copying dependencies for '%s' ...", l.Library)
	if err := resolver.Resolve(l.Library, opts); err != nil {
		return err
	}

	logrus.Infof("Bundled %d libraries into '%s'", len(resolver.Bundled()), l.FrameworksDir)
	return nil
}

// listPlugins returns the regular files in dir in name order. A missing
// directory means no plugins were built.
func listPlugins(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.Debugf("No plugin directory at '%s'", dir)
			return nil, nil
		}
		return nil, err
	}
	var plugins []string
	for _, e := range entries {
		plugin := filepath.Join(dir, e.Name())
		info, err := os.Stat(plugin)
		if err != nil {
			return nil, err
		}
		if info.Mode().IsRegular() {
			plugins = append(plugins, plugin)
		}
	}
	return plugins, nil
}
