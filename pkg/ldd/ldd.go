package ldd

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Lister returns the raw dependency references recorded in a binary.
type Lister interface {
	Dependencies(binary string) ([]string, error)
}

// Load commands referencing a dylib which debug/macho leaves undecoded.
const (
	loadCmdLoadWeakDylib   macho.LoadCmd = 0x80000018
	loadCmdReexportDylib   macho.LoadCmd = 0x8000001f
	loadCmdLazyLoadDylib   macho.LoadCmd = 0x20
	loadCmdLoadUpwardDylib macho.LoadCmd = 0x80000023
)

// MachO lists the dylib references of thin and universal Mach-O files in
// load command order: regular, weak, lazy, upward and re-exported dylibs.
// The binary's own LC_ID_DYLIB is not part of the result.
type MachO struct{}

func (MachO) Dependencies(binary string) ([]string, error) {
	fat, err := macho.OpenFat(binary)
	if err == nil {
		defer fat.Close()
		var libs []string
		discovered := map[string]struct{}{}
		for _, arch := range fat.Arches {
			imported, err := loadedDylibs(arch.File)
			if err != nil {
				return nil, err
			}
			for _, l := range imported {
				if _, exists := discovered[l]; !exists {
					discovered[l] = struct{}{}
					libs = append(libs, l)
				}
			}
		}
		return libs, nil
	} else if !errors.Is(err, macho.ErrNotFat) {
		return nil, err
	}

	bin, err := macho.Open(binary)
	if err != nil {
		return nil, err
	}
	defer bin.Close()
	return loadedDylibs(bin)
}

func loadedDylibs(f *macho.File) ([]string, error) {
	var libs []string
	for _, l := range f.Loads {
		switch l := l.(type) {
		case *macho.Dylib:
			libs = append(libs, l.Name)
		case macho.LoadBytes:
			if len(l) < 12 {
				continue
			}
			switch macho.LoadCmd(f.ByteOrder.Uint32(l[0:4])) {
			case loadCmdLoadWeakDylib, loadCmdReexportDylib, loadCmdLazyLoadDylib, loadCmdLoadUpwardDylib:
				name := f.ByteOrder.Uint32(l[8:12])
				if name < 12 || name >= uint32(len(l)) {
					return nil, fmt.Errorf("invalid name offset %d in dylib load command", name)
				}
				libs = append(libs, cstring(l[name:]))
			}
		}
	}
	return libs, nil
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		return string(b[:i])
	}
	return string(b)
}

// ELF lists the DT_NEEDED entries of an ELF file.
type ELF struct{}

func (ELF) Dependencies(binary string) ([]string, error) {
	bin, err := elf.Open(binary)
	if err != nil {
		return nil, err
	}
	defer bin.Close()
	return bin.ImportedLibraries()
}

// Auto picks MachO or ELF based on the file format.
type Auto struct{}

func (Auto) Dependencies(binary string) ([]string, error) {
	libs, err := MachO{}.Dependencies(binary)
	if err == nil {
		return libs, nil
	}
	var formatErr *macho.FormatError
	if !errors.As(err, &formatErr) {
		return nil, err
	}
	libs, err = ELF{}.Dependencies(binary)
	if err != nil {
		return nil, fmt.Errorf("%s is neither a Mach-O nor an ELF file: %v", binary, err)
	}
	return libs, nil
}

// Closure returns every library file reachable from objects, including the
// symlinks leading to them, each once and in discovery order. Relative
// references are looked up by base name in libraryPath. References below one
// of the ignore prefixes are neither reported nor followed.
func Closure(lister Lister, objects []string, libraryPath []string, ignore []string) (finalFiles []string, err error) {
	discovered := map[string]struct{}{}
	processed := map[string]struct{}{}
	next := append([]string{}, objects...)

	for len(next) > 0 {
		current := next[0]
		next = next[1:]
		if _, exists := processed[current]; exists {
			continue
		}
		processed[current] = struct{}{}

		deps, err := lister.Dependencies(current)
		if err != nil {
			return nil, fmt.Errorf("could not list dependencies of %s: %v", current, err)
		}
		for _, dep := range deps {
			if isIgnored(dep, ignore) {
				continue
			}
			file, err := locate(dep, libraryPath)
			if err != nil {
				return nil, err
			}
			files, err := followSymlinks(file)
			if err != nil {
				return nil, err
			}
			for _, l := range files {
				if _, exists := discovered[l]; !exists {
					discovered[l] = struct{}{}
					finalFiles = append(finalFiles, l)
				}
			}
			next = append(next, files[len(files)-1])
		}
	}
	return finalFiles, nil
}

func locate(dep string, libraryPath []string) (string, error) {
	if filepath.IsAbs(dep) {
		if _, err := os.Stat(dep); err != nil {
			return "", err
		}
		return dep, nil
	}
	name := filepath.Base(dep)
	for _, dir := range libraryPath {
		_, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		return filepath.Join(dir, name), nil
	}
	return "", fmt.Errorf("%v not found in any of %v", dep, libraryPath)
}

func isIgnored(dep string, ignore []string) bool {
	for _, prefix := range ignore {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
		if strings.HasPrefix(dep, prefix) {
			return true
		}
	}
	return false
}

// followSymlinks returns file and every link target up to the real file,
// which is always last.
func followSymlinks(file string) (files []string, err error) {
	for {
		info, err := os.Lstat(file)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
		if info.Mode()&os.ModeSymlink != os.ModeSymlink {
			break
		}
		target, err := os.Readlink(file)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(file), target)
		}
		file = target
	}
	return
}
