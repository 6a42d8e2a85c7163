package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	"github.com/adrg/xdg"
	"sigs.k8s.io/yaml"
)

type Platform string

const (
	MacX  Platform = "MACX"
	Win32 Platform = "WIN32"
	Unix  Platform = "UNIX"
)

// Plugins lists the optional plugins the qmake project knows how to skip,
// with the qmake variable that skips each.
var Plugins = []Plugin{
	{Name: "hydrogen", Variable: "SKIP_HYDROGEN_PLUGIN"},
	{Name: "jack", Variable: "SKIP_JACK_PLUGIN"},
	{Name: "portmedia", Variable: "SKIP_PORTMEDIA_PLUGIN"},
	{Name: "sfz", Variable: "SKIP_SFZ_PLUGIN"},
	{Name: "trimmer", Variable: "SKIP_TRIMMER_PLUGIN"},
	{Name: "zone-generator", Variable: "SKIP_ZONE_GENERATOR_PLUGIN"},
}

type Plugin struct {
	Name     string
	Variable string
}

type Version struct {
	Major    int `json:"major"`
	Minor    int `json:"minor"`
	Revision int `json:"revision"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

type Tools struct {
	QMake           string `json:"qmake"`
	Make            string `json:"make"`
	MacDeployQt     string `json:"macdeployqt"`
	Doxygen         string `json:"doxygen"`
	Otool           string `json:"otool"`
	InstallNameTool string `json:"install_name_tool"`
}

type Bundle struct {
	// Ignore lists directories whose libraries every target machine has.
	Ignore []string `json:"ignore"`
	// FrameworksPath is the install path of bundled libraries.
	FrameworksPath string `json:"frameworksPath"`
	// PluginsPath is the install path plugins are relocated to.
	PluginsPath string `json:"pluginsPath"`
	// MappedPrefix selects the executable's references which macdeployqt has
	// already relocated.
	MappedPrefix string `json:"mappedPrefix"`
	// UseOtool lists dependencies through otool(1) instead of reading the
	// Mach-O headers directly.
	UseOtool bool `json:"useOtool"`
}

// Config carries everything a packaging run needs. It is built once at
// startup and passed down explicitly.
type Config struct {
	Name     string   `json:"name"`
	Version  Version  `json:"version"`
	Platform Platform `json:"platform"`

	Prefix      string `json:"prefix"`
	ScriptDir   string `json:"scriptDir"`
	BuildDir    string `json:"buildDir"`
	MakeDir     string `json:"makeDir"`
	TemplateDir string `json:"templateDir"`

	Debug       bool     `json:"debug"`
	SkipAPIDocs bool     `json:"skipAPIDocs"`
	SkipHeaders bool     `json:"skipHeaders"`
	SkipPlugins []string `json:"skipPlugins,omitempty"`
	QMakeArgs   []string `json:"qmakeArgs,omitempty"`
	// Archive is the distribution archive written after a successful build.
	Archive string `json:"archive,omitempty"`

	Tools  Tools  `json:"tools"`
	Bundle Bundle `json:"bundle"`
}

// PlatformFor maps a GOOS value to the qmake platform.
func PlatformFor(goos string) Platform {
	switch goos {
	case "darwin":
		return MacX
	case "windows":
		return Win32
	default:
		return Unix
	}
}

// Defaults returns the configuration for the host platform with all
// directories relative to scriptDir.
func Defaults(scriptDir string) *Config {
	return DefaultsFor(PlatformFor(runtime.GOOS), scriptDir)
}

func DefaultsFor(platform Platform, scriptDir string) *Config {
	c := &Config{
		Name:        "synthclone",
		Version:     Version{Major: 0, Minor: 1, Revision: 10},
		Platform:    platform,
		ScriptDir:   scriptDir,
		BuildDir:    filepath.Join(scriptDir, "build"),
		MakeDir:     filepath.Join(scriptDir, "make"),
		TemplateDir: filepath.Join(scriptDir, "templates"),
		Tools: Tools{
			QMake:           "qmake",
			Make:            "make",
			MacDeployQt:     "macdeployqt",
			Doxygen:         "doxygen",
			Otool:           "otool",
			InstallNameTool: "install_name_tool",
		},
		Bundle: Bundle{
			FrameworksPath: "@executable_path/../Frameworks/",
			PluginsPath:    "@executable_path/../PlugIns/",
			MappedPrefix:   "Qt",
		},
	}
	c.Prefix = c.DefaultPrefix()
	return c
}

// DefaultPrefix is the install prefix used when none is configured.
func (c *Config) DefaultPrefix() string {
	switch c.Platform {
	case MacX:
		return "/"
	case Win32:
		return `C:\Program Files\` + c.Name
	default:
		return "/usr/local"
	}
}

// BundlesLibraries reports whether third-party libraries are copied into
// the application bundle.
func (c *Config) BundlesLibraries() bool {
	return c.Platform == MacX
}

// CreatesMenuEntry reports whether a desktop entry and a pkg-config file are
// generated.
func (c *Config) CreatesMenuEntry() bool {
	return c.Platform == Unix
}

// FrameworkDir is the framework bundle of the exported library, relative
// to the build directory. Only meaningful on MacX.
func (c *Config) FrameworkDir() string {
	return filepath.Join("Library", "Frameworks", c.Name+".framework")
}

// LibraryDocDir is where the API documentation is generated.
func (c *Config) LibraryDocDir() string {
	if c.Platform == MacX {
		return filepath.Join(c.ScriptDir, "build", c.FrameworkDir(), "Documentation")
	}
	return filepath.Join(c.ScriptDir, "build", "share", "doc", c.Name+"-devel")
}

// PlatformArgs are the qmake arguments specific to the platform.
func (c *Config) PlatformArgs() []string {
	if c.Platform == MacX {
		return []string{"-spec", "macx-g++"}
	}
	return nil
}

// IgnoreDirs returns the configured ignore directories, or the system
// library locations plus the installed framework when none are configured.
func (c *Config) IgnoreDirs() []string {
	if len(c.Bundle.Ignore) > 0 {
		return c.Bundle.Ignore
	}
	return []string{
		"/lib",
		"/usr/lib",
		"/Library/Frameworks",
		"/System/Library/Frameworks",
		filepath.Join(c.Prefix, c.FrameworkDir()),
	}
}

// TemplateData is the substitution data of all templates.
func (c *Config) TemplateData() map[string]string {
	return map[string]string{
		"libraryDocDir": c.LibraryDocDir(),
		"majorVersion":  strconv.Itoa(c.Version.Major),
		"minorVersion":  strconv.Itoa(c.Version.Minor),
		"name":          c.Name,
		"platform":      string(c.Platform),
		"prefix":        c.Prefix,
		"revision":      strconv.Itoa(c.Version.Revision),
	}
}

func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name must not be empty")
	}
	switch c.Platform {
	case MacX, Win32, Unix:
	default:
		return fmt.Errorf("unknown platform '%s'", c.Platform)
	}
	for _, skipped := range c.SkipPlugins {
		if !slices.ContainsFunc(Plugins, func(p Plugin) bool { return p.Name == skipped }) {
			return fmt.Errorf("unknown plugin '%s'", skipped)
		}
	}
	return nil
}

// Load overlays the YAML file onto c.
func Load(file string, c *Config) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v", file, err)
	}
	return nil
}

// Find returns the user's appbuild config file, or "" if there is none.
func Find() string {
	file, err := xdg.SearchConfigFile(filepath.Join("appbuild", "config.yaml"))
	if err != nil {
		return ""
	}
	return file
}

// Marshal renders c as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
