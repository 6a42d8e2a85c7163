// Package relink patches the dependency references stored in binaries by
// shelling out to the platform's relinking tool.
package relink

import (
	"context"

	"github.com/rmohr/appbuild/pkg/command"
)

// InstallNameTool rewrites Mach-O load commands with install_name_tool(1).
type InstallNameTool struct {
	Runner command.Runner
	// Tool defaults to "install_name_tool".
	Tool string
}

func (i *InstallNameTool) ChangeDependency(binary, find, replace string) error {
	_, err := i.Runner.Run(context.Background(), i.tool(), "-change", find, replace, binary)
	return err
}

// SetLocation sets the LC_ID_DYLIB install name of a library.
func (i *InstallNameTool) SetLocation(binary, location string) error {
	_, err := i.Runner.Run(context.Background(), i.tool(), "-id", location, binary)
	return err
}

func (i *InstallNameTool) tool() string {
	if i.Tool == "" {
		return "install_name_tool"
	}
	return i.Tool
}

// PatchELF rewrites DT_NEEDED and DT_SONAME entries with patchelf(1).
type PatchELF struct {
	Runner command.Runner
	// Tool defaults to "patchelf".
	Tool string
}

func (p *PatchELF) ChangeDependency(binary, find, replace string) error {
	_, err := p.Runner.Run(context.Background(), p.tool(), "--replace-needed", find, replace, binary)
	return err
}

func (p *PatchELF) SetLocation(binary, location string) error {
	_, err := p.Runner.Run(context.Background(), p.tool(), "--set-soname", location, binary)
	return err
}

func (p *PatchELF) tool() string {
	if p.Tool == "" {
		return "patchelf"
	}
	return p.Tool
}
