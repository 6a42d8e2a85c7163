package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"

	"github.com/rmohr/appbuild/pkg/bundle"
	"github.com/rmohr/appbuild/pkg/command"
	"github.com/rmohr/appbuild/pkg/config"
	"github.com/rmohr/appbuild/pkg/dist"
	"github.com/rmohr/appbuild/pkg/template"
)

// Builder runs the packaging pipeline described by Config.
type Builder struct {
	Config   *config.Config
	Runner   command.Runner
	Lister   bundle.Lister
	Rewriter bundle.Rewriter
}

// Run executes all steps in order and stops at the first failure.
func (b *Builder) Run(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"templates", b.WriteTemplates},
		{"qmake", b.QMake},
		{"make", b.Make},
		{"bundle", b.Bundle},
		{"docs", b.Docs},
		{"archive", b.Archive},
	}
	for _, step := range steps {
		logrus.Debugf("Running step %s", step.name)
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	logrus.Info("Build successful.  Run `make install` to install.")
	return nil
}

// WriteTemplates renders the generated files. They must exist before qmake
// runs, otherwise qmake adds no install rules for them.
func (b *Builder) WriteTemplates(_ context.Context) error {
	c := b.Config
	data := c.TemplateData()
	logrus.Debugf("Template data: %v", sortedData(data))

	if !c.SkipAPIDocs {
		if err := os.MkdirAll(c.LibraryDocDir(), 0755); err != nil {
			return err
		}
	}

	type output struct {
		destination string
		source      string
	}
	var outputs []output
	if !c.SkipAPIDocs {
		outputs = append(outputs, output{filepath.Join(c.MakeDir, "Doxyfile"), "Doxyfile"})
	}
	if !c.SkipHeaders {
		outputs = append(outputs, output{filepath.Join(c.ScriptDir, "src", "include", c.Name, "config.h"), "config.h"})
	}
	if c.CreatesMenuEntry() {
		outputs = append(outputs,
			output{filepath.Join(c.BuildDir, "share", "applications", c.Name+".desktop"), c.Name + ".desktop"},
			output{filepath.Join(c.BuildDir, "lib", "pkgconfig", c.Name+".pc"), c.Name + ".pc"},
		)
	}
	for _, o := range outputs {
		logrus.Infof("Writing '%s' ...", o.destination)
		if err := template.Write(o.destination, filepath.Join(c.TemplateDir, o.source), data); err != nil {
			return err
		}
	}
	return nil
}

// QMakeArgs returns the qmake command line without the tool itself.
func (b *Builder) QMakeArgs() []string {
	c := b.Config
	args := []string{"-recursive"}
	args = append(args, c.PlatformArgs()...)
	args = append(args, c.QMakeArgs...)
	args = append(args,
		fmt.Sprintf("MAJOR_VERSION=%d", c.Version.Major),
		fmt.Sprintf("MINOR_VERSION=%d", c.Version.Minor),
		fmt.Sprintf("REVISION=%d", c.Version.Revision),
		"BUILDDIR="+c.BuildDir,
		"MAKEDIR="+c.MakeDir,
		"PREFIX="+c.Prefix,
	)
	if c.SkipAPIDocs {
		args = append(args, "SKIP_API_DOCS=1")
	}
	if c.SkipHeaders {
		args = append(args, "SKIP_HEADERS=1")
	}
	if c.Debug {
		args = append(args, "DEBUG=1")
	}
	skipped := map[string]bool{}
	for _, name := range c.SkipPlugins {
		skipped[name] = true
	}
	for _, plugin := range config.Plugins {
		if skipped[plugin.Name] {
			args = append(args, plugin.Variable+"=1")
		}
	}
	return args
}

func (b *Builder) QMake(ctx context.Context) error {
	if _, err := b.Runner.Run(ctx, b.Config.Tools.QMake, b.QMakeArgs()...); err != nil {
		return fmt.Errorf("qmake returned an error: %w", err)
	}
	return nil
}

func (b *Builder) Make(ctx context.Context) error {
	if _, err := b.Runner.Run(ctx, b.Config.Tools.Make); err != nil {
		return fmt.Errorf("make returned an error: %w", err)
	}
	return nil
}

// Docs generates the API documentation.
func (b *Builder) Docs(ctx context.Context) error {
	if b.Config.SkipAPIDocs {
		return nil
	}
	if _, err := b.Runner.Run(ctx, b.Config.Tools.Doxygen, filepath.Join(b.Config.MakeDir, "Doxyfile")); err != nil {
		return fmt.Errorf("documentation generation failed: %w", err)
	}
	return nil
}

// Archive writes the distribution archive if one is configured.
func (b *Builder) Archive(ctx context.Context) error {
	if b.Config.Archive == "" {
		return nil
	}
	return dist.Archive(ctx, b.Config.BuildDir, b.Config.Archive)
}

func sortedData(data map[string]string) []string {
	keys := maps.Keys(data)
	slices.Sort(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+data[k])
	}
	return pairs
}
