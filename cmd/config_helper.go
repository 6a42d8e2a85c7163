package main

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/rmohr/appbuild/pkg/bundle"
	"github.com/rmohr/appbuild/pkg/command"
	"github.com/rmohr/appbuild/pkg/config"
	"github.com/rmohr/appbuild/pkg/ldd"
	"github.com/rmohr/appbuild/pkg/relink"
	"github.com/sirupsen/logrus"
)

// loadConfig builds the configuration of this run: platform defaults for
// the source directory, overlaid with the config file if there is one.
func loadConfig() (*config.Config, error) {
	sourceDir, err := filepath.Abs(rootopts.sourceDir)
	if err != nil {
		return nil, err
	}
	c := config.Defaults(sourceDir)

	file := rootopts.configFile
	if file == "" {
		file = config.Find()
	}
	if file != "" {
		logrus.Debugf("Loading configuration from %s", file)
		if err := config.Load(file, c); err != nil {
			return nil, err
		}
	}
	return c, c.Validate()
}

// binaryTools returns the lister and rewriter for a binary format.
func binaryTools(format string, c *config.Config) (bundle.Lister, bundle.Rewriter, error) {
	runner := &command.Exec{}
	installNameTool := &relink.InstallNameTool{Runner: runner, Tool: c.Tools.InstallNameTool}
	switch format {
	case "macho":
		return ldd.MachO{}, installNameTool, nil
	case "otool":
		return &ldd.Otool{Runner: runner, Tool: c.Tools.Otool}, installNameTool, nil
	case "elf":
		return ldd.ELF{}, &relink.PatchELF{Runner: runner}, nil
	case "auto":
		if runtime.GOOS == "darwin" {
			return ldd.Auto{}, installNameTool, nil
		}
		return ldd.Auto{}, &relink.PatchELF{Runner: runner}, nil
	default:
		return nil, nil, fmt.Errorf("unknown binary format '%s', use macho, otool, elf or auto", format)
	}
}

// requireTools fails on the first tool missing from PATH.
func requireTools(tools ...string) error {
	for _, tool := range tools {
		p, err := command.LookPath(tool)
		if err != nil {
			return err
		}
		logrus.Debugf("Using %s", p)
	}
	return nil
}
