// Package bundle copies the third-party shared libraries a binary depends on
// into a private bundle directory and relinks every reference to them, so
// the result no longer depends on build-machine paths.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	ExecutablePathMarker = "@executable_path/"
	LoaderPathMarker     = "@loader_path/"
)

// Lister returns the dependency references recorded in a binary, in the
// order the binary records them.
type Lister interface {
	Dependencies(binary string) ([]string, error)
}

// Rewriter patches dependency references of a binary in place.
type Rewriter interface {
	ChangeDependency(binary, find, replace string) error
	SetLocation(binary, location string) error
}

type Options struct {
	// InstallPath is the logical prefix rewritten references use, e.g.
	// "@executable_path/../Frameworks/".
	InstallPath string
	// BundleDir receives the copied libraries.
	BundleDir string
	// Ignore holds directory prefixes of libraries present on every target machine.
	Ignore []string
	// ExecutableRoot is the base for relative references. Defaults to the
	// binary passed to Resolve.
	ExecutableRoot string
	// DependencyMap maps library base names to references which are already
	// correctly bundled.
	DependencyMap map[string]string
	// SearchPaths are consulted by base name when a relative reference does
	// not resolve next to the executable.
	SearchPaths []string
}

// Resolver settles binaries. A single Resolver should be used for all
// top-level artifacts of one packaging run, so that libraries shared between
// them are copied and walked once.
type Resolver struct {
	lister   Lister
	rewriter Rewriter

	settled  map[string]struct{}
	origins  map[string]string
	inFlight []string
	bundled  []string
}

func NewResolver(lister Lister, rewriter Rewriter) *Resolver {
	return &Resolver{
		lister:   lister,
		rewriter: rewriter,
		settled:  map[string]struct{}{},
		origins:  map[string]string{},
	}
}

// Resolve copies every non-ignored, non-mapped dependency of binary into
// opts.BundleDir, recursively, and rewrites the references of binary and of
// each copy to their install path.
func (r *Resolver) Resolve(binary string, opts Options) error {
	if opts.ExecutableRoot == "" {
		opts.ExecutableRoot = binary
	}
	ignore, err := normalizePrefixes(opts.Ignore)
	if err != nil {
		return err
	}
	return r.resolve(binary, opts, ignore)
}

// Bundled returns the libraries copied by this resolver in copy order.
func (r *Resolver) Bundled() []string {
	return slices.Clone(r.bundled)
}

func (r *Resolver) resolve(binary string, opts Options, ignore []string) error {
	dependencies, err := listDependencies(r.lister, binary)
	if err != nil {
		return err
	}

	for _, dependency := range dependencies {
		dependencyPath := r.locate(binary, dependency, opts)
		if isIgnored(dependencyPath, ignore) {
			logrus.Debugf("Ignoring dependency '%s' of '%s'", dependency, binary)
			continue
		}
		libFile := filepath.Base(dependency)
		if libFile == filepath.Base(binary) {
			continue
		}

		location, mapped := opts.DependencyMap[libFile]
		if !mapped {
			destinationPath := filepath.Join(opts.BundleDir, libFile)
			location = installLocation(opts.InstallPath, libFile)
			err := r.settle(binary, dependency, dependencyPath, destinationPath, location, opts, ignore)
			if err != nil {
				return err
			}
		}

		logrus.Infof("Replacing dependency '%s' with '%s' in '%s' ...", dependency, location, binary)
		if err := r.rewriter.ChangeDependency(binary, dependency, location); err != nil {
			return &RewriteFailedError{Binary: binary, Find: dependency, Replace: location, Err: err}
		}
	}
	return nil
}

// settle makes sure destinationPath holds a copy of dependencyPath whose own
// dependencies are resolved and whose location is set.
func (r *Resolver) settle(binary, dependency, dependencyPath, destinationPath, location string, opts Options, ignore []string) error {
	if slices.Contains(r.inFlight, destinationPath) {
		chain := append(slices.Clone(r.inFlight), destinationPath)
		return &CyclicDependencyError{Chain: chain}
	}
	if _, ok := r.settled[destinationPath]; ok {
		return nil
	}
	if exists, err := isFile(destinationPath); err != nil {
		return err
	} else if exists {
		logrus.Debugf("Library '%s' is already bundled", destinationPath)
		r.settled[destinationPath] = struct{}{}
		return nil
	}

	if exists, err := isFile(dependencyPath); err != nil {
		return err
	} else if !exists {
		return &MissingDependencyError{Binary: binary, Reference: dependency, Path: dependencyPath}
	}
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0755); err != nil {
		return fmt.Errorf("failed to create bundle directory %s: %v", filepath.Dir(destinationPath), err)
	}
	logrus.Infof("Copying library '%s' to '%s' ...", dependencyPath, destinationPath)
	if err := copyFile(dependencyPath, destinationPath); err != nil {
		return err
	}
	r.bundled = append(r.bundled, destinationPath)
	r.origins[destinationPath] = dependencyPath

	r.inFlight = append(r.inFlight, destinationPath)
	err := r.resolve(destinationPath, opts, ignore)
	r.inFlight = r.inFlight[:len(r.inFlight)-1]
	if err != nil {
		return err
	}

	logrus.Infof("Setting library location of '%s' to '%s' ...", destinationPath, location)
	if err := r.rewriter.SetLocation(destinationPath, location); err != nil {
		return &RewriteFailedError{Binary: destinationPath, Replace: location, Err: err}
	}
	r.settled[destinationPath] = struct{}{}
	return nil
}

// locate returns the absolute path a dependency reference points to on the
// build machine.
func (r *Resolver) locate(binary, dependency string, opts Options) string {
	if filepath.IsAbs(dependency) {
		return filepath.Clean(dependency)
	}

	var p string
	switch {
	case strings.HasPrefix(dependency, ExecutablePathMarker):
		p = filepath.Join(filepath.Dir(opts.ExecutableRoot), strings.TrimPrefix(dependency, ExecutablePathMarker))
	case strings.HasPrefix(dependency, LoaderPathMarker):
		loader := binary
		if origin, ok := r.origins[binary]; ok {
			loader = origin
		}
		p = filepath.Join(filepath.Dir(loader), strings.TrimPrefix(dependency, LoaderPathMarker))
	default:
		p = filepath.Join(filepath.Dir(opts.ExecutableRoot), dependency)
	}

	if len(opts.SearchPaths) == 0 {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	for _, dir := range opts.SearchPaths {
		candidate := filepath.Join(dir, filepath.Base(dependency))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return p
}

// MapDependencies collects the references of binary whose base name starts
// with prefix, keyed by base name. The result is meant as Options.DependencyMap
// for libraries which were already relocated by another tool.
func MapDependencies(lister Lister, binary string, prefix string) (map[string]string, error) {
	dependencies, err := listDependencies(lister, binary)
	if err != nil {
		return nil, err
	}
	mapped := map[string]string{}
	for _, dependency := range dependencies {
		libFile := filepath.Base(dependency)
		if strings.HasPrefix(libFile, prefix) {
			mapped[libFile] = dependency
		}
	}
	return mapped, nil
}

func listDependencies(lister Lister, binary string) ([]string, error) {
	dependencies, err := lister.Dependencies(binary)
	if err != nil {
		var notABinary *NotABinaryError
		if errors.As(err, &notABinary) {
			return nil, err
		}
		return nil, &NotABinaryError{Binary: binary, Err: err}
	}
	return dependencies, nil
}

// installLocation joins with a plain slash: install paths are dyld/ld.so
// strings, and cleaning "@executable_path/.." would drop the marker.
func installLocation(installPath, libFile string) string {
	if installPath == "" {
		return libFile
	}
	return strings.TrimSuffix(installPath, "/") + "/" + libFile
}

func normalizePrefixes(dirs []string) ([]string, error) {
	prefixes := make([]string, 0, len(dirs))
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore directory %s: %v", d, err)
		}
		if !strings.HasSuffix(abs, string(filepath.Separator)) {
			abs += string(filepath.Separator)
		}
		prefixes = append(prefixes, abs)
	}
	return prefixes, nil
}

func isIgnored(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// copyFile writes src to a temporary file next to dst and renames it into
// place, so dst only ever exists as a complete copy. The copy keeps the
// permission bits of src and is writable by the owner.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open library %s: %v", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat library %s: %v", src, err)
	}

	out, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", dst, err)
	}
	tmp := out.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s to %s: %v", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %v", dst, err)
	}
	if err := os.Chmod(tmp, info.Mode().Perm()|0200); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %v", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("failed to move %s into place: %v", dst, err)
	}
	return nil
}
