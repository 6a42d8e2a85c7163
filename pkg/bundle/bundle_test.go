package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	. "github.com/onsi/gomega"
)

// fakeBinaries stands in for otool/install_name_tool. A binary is identified
// by its file content, so copies made by the resolver report the same
// dependencies as their source until they are rewritten.
type fakeBinaries struct {
	graph       map[string][]string
	refs        map[string][]string
	ids         map[string]string
	listed      []string
	failRewrite string
}

func newFakeBinaries(graph map[string][]string) *fakeBinaries {
	return &fakeBinaries{
		graph: graph,
		refs:  map[string][]string{},
		ids:   map[string]string{},
	}
}

func (f *fakeBinaries) Dependencies(binary string) ([]string, error) {
	f.listed = append(f.listed, binary)
	if refs, ok := f.refs[binary]; ok {
		return slices.Clone(refs), nil
	}
	content, err := os.ReadFile(binary)
	if err != nil {
		return nil, err
	}
	refs, ok := f.graph[string(content)]
	if !ok {
		return nil, fmt.Errorf("%s: is not an object file", binary)
	}
	f.refs[binary] = slices.Clone(refs)
	return slices.Clone(refs), nil
}

func (f *fakeBinaries) ChangeDependency(binary, find, replace string) error {
	if binary == f.failRewrite {
		return errors.New("permission denied")
	}
	refs := f.refs[binary]
	for i := range refs {
		if refs[i] == find {
			refs[i] = replace
		}
	}
	return nil
}

func (f *fakeBinaries) SetLocation(binary, location string) error {
	if binary == f.failRewrite {
		return errors.New("permission denied")
	}
	f.ids[binary] = location
	return nil
}

type layout struct {
	root      string
	exe       string
	bundleDir string
	libDir    string
	sysDir    string
}

const installPath = "@executable_path/../Frameworks/"

func newLayout(t *testing.T) *layout {
	root := t.TempDir()
	l := &layout{
		root:      root,
		exe:       filepath.Join(root, "app.app", "Contents", "MacOS", "app"),
		bundleDir: filepath.Join(root, "app.app", "Contents", "Frameworks"),
		libDir:    filepath.Join(root, "opt", "lib"),
		sysDir:    filepath.Join(root, "usr", "lib"),
	}
	for _, dir := range []string{filepath.Dir(l.exe), l.libDir, l.sysDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func (l *layout) write(t *testing.T, path string, content string) string {
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func (l *layout) lib(name string) string {
	return filepath.Join(l.libDir, name)
}

func (l *layout) sys(name string) string {
	return filepath.Join(l.sysDir, name)
}

func (l *layout) options() Options {
	return Options{
		InstallPath: installPath,
		BundleDir:   l.bundleDir,
		Ignore:      []string{l.sysDir},
	}
}

func bundledFiles(t *testing.T, dir string) []string {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestResolveOnlyIgnoredDependencies(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.sys("libSystem.B.dylib"), "libSystem")
	fake := newFakeBinaries(map[string][]string{
		"app": {l.sys("libSystem.B.dylib"), l.sys("libc++.1.dylib")},
	})

	r := NewResolver(fake, fake)
	g.Expect(r.Resolve(l.exe, l.options())).To(Succeed())

	g.Expect(r.Bundled()).To(BeEmpty())
	g.Expect(l.bundleDir).ToNot(BeADirectory())
	g.Expect(fake.refs[l.exe]).To(Equal([]string{l.sys("libSystem.B.dylib"), l.sys("libc++.1.dylib")}))
	g.Expect(fake.ids).To(BeEmpty())
}

func TestResolveChain(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	l.write(t, l.lib("libC.dylib"), "libC")
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib"), l.sys("libSystem.B.dylib")},
		"libB": {l.lib("libB.dylib"), l.lib("libC.dylib"), l.sys("libSystem.B.dylib")},
		"libC": {l.lib("libC.dylib"), l.sys("libSystem.B.dylib")},
	})

	r := NewResolver(fake, fake)
	g.Expect(r.Resolve(l.exe, l.options())).To(Succeed())

	copiedB := filepath.Join(l.bundleDir, "libB.dylib")
	copiedC := filepath.Join(l.bundleDir, "libC.dylib")
	g.Expect(copiedB).To(BeARegularFile())
	g.Expect(copiedC).To(BeARegularFile())
	g.Expect(r.Bundled()).To(Equal([]string{copiedB, copiedC}))

	g.Expect(fake.refs[l.exe]).To(Equal([]string{
		"@executable_path/../Frameworks/libB.dylib",
		l.sys("libSystem.B.dylib"),
	}))
	g.Expect(fake.refs[copiedB]).To(Equal([]string{
		l.lib("libB.dylib"),
		"@executable_path/../Frameworks/libC.dylib",
		l.sys("libSystem.B.dylib"),
	}))
	g.Expect(fake.ids).To(Equal(map[string]string{
		copiedB: "@executable_path/../Frameworks/libB.dylib",
		copiedC: "@executable_path/../Frameworks/libC.dylib",
	}))

	// the source libraries are never touched
	g.Expect(fake.refs).ToNot(HaveKey(l.lib("libB.dylib")))
	g.Expect(fake.refs).ToNot(HaveKey(l.lib("libC.dylib")))
}

func TestResolveDependencyMap(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	qtCore := "@executable_path/../Frameworks/QtCore.framework/Versions/4/QtCore"
	fake := newFakeBinaries(map[string][]string{
		"app": {"/usr/local/Trolltech/Qt/lib/QtCore.framework/Versions/4/QtCore"},
	})

	opts := l.options()
	opts.DependencyMap = map[string]string{"QtCore": qtCore}
	r := NewResolver(fake, fake)
	g.Expect(r.Resolve(l.exe, opts)).To(Succeed())

	g.Expect(fake.refs[l.exe]).To(Equal([]string{qtCore}))
	g.Expect(bundledFiles(t, l.bundleDir)).To(BeEmpty())
	g.Expect(fake.listed).To(Equal([]string{l.exe}))
}

func TestResolveDependencyMapAppliesToCopies(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	qtGui := "@executable_path/../Frameworks/QtGui.framework/Versions/4/QtGui"
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib")},
		"libB": {"/opt/qt/QtGui.framework/Versions/4/QtGui"},
	})

	opts := l.options()
	opts.DependencyMap = map[string]string{"QtGui": qtGui}
	g.Expect(NewResolver(fake, fake).Resolve(l.exe, opts)).To(Succeed())

	g.Expect(fake.refs[filepath.Join(l.bundleDir, "libB.dylib")]).To(Equal([]string{qtGui}))
	g.Expect(bundledFiles(t, l.bundleDir)).To(Equal([]string{"libB.dylib"}))
}

func TestResolveMissingDependency(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	fake := newFakeBinaries(map[string][]string{
		"app": {l.lib("libGone.dylib")},
	})

	err := NewResolver(fake, fake).Resolve(l.exe, l.options())

	g.Expect(err).To(MatchError(ErrMissingDependency))
	var missing *MissingDependencyError
	g.Expect(errors.As(err, &missing)).To(BeTrue())
	g.Expect(missing.Path).To(Equal(l.lib("libGone.dylib")))
	g.Expect(missing.Binary).To(Equal(l.exe))
	g.Expect(err.Error()).To(ContainSubstring(l.lib("libGone.dylib")))
	g.Expect(l.bundleDir).ToNot(BeADirectory())
	g.Expect(fake.refs[l.exe]).To(Equal([]string{l.lib("libGone.dylib")}))
}

func TestResolveDeduplicatesSiblings(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	a1 := l.write(t, filepath.Join(l.root, "plugin1.dylib"), "plugin1")
	a2 := l.write(t, filepath.Join(l.root, "plugin2.dylib"), "plugin2")
	l.write(t, l.lib("libD.dylib"), "libD")
	fake := newFakeBinaries(map[string][]string{
		"plugin1": {l.lib("libD.dylib")},
		"plugin2": {l.lib("libD.dylib")},
		"libD":    {l.sys("libSystem.B.dylib")},
	})

	opts := l.options()
	opts.ExecutableRoot = l.exe
	r := NewResolver(fake, fake)
	g.Expect(r.Resolve(a1, opts)).To(Succeed())
	g.Expect(r.Resolve(a2, opts)).To(Succeed())

	copiedD := filepath.Join(l.bundleDir, "libD.dylib")
	g.Expect(r.Bundled()).To(Equal([]string{copiedD}))
	g.Expect(bundledFiles(t, l.bundleDir)).To(Equal([]string{"libD.dylib"}))
	g.Expect(fake.refs[a1]).To(Equal([]string{"@executable_path/../Frameworks/libD.dylib"}))
	g.Expect(fake.refs[a2]).To(Equal(fake.refs[a1]))

	walks := 0
	for _, listed := range fake.listed {
		if listed == copiedD {
			walks++
		}
	}
	g.Expect(walks).To(Equal(1))
}

func TestResolveIsIdempotent(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	l.write(t, l.lib("libC.dylib"), "libC")
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib"), l.lib("libC.dylib")},
		"libB": {l.lib("libC.dylib")},
		"libC": {},
	})

	g.Expect(NewResolver(fake, fake).Resolve(l.exe, l.options())).To(Succeed())
	firstFiles := bundledFiles(t, l.bundleDir)
	firstRefs := slices.Clone(fake.refs[l.exe])
	firstIDs := map[string]string{}
	for k, v := range fake.ids {
		firstIDs[k] = v
	}

	// a fresh resolver only has the bundle directory to go by
	second := NewResolver(fake, fake)
	g.Expect(second.Resolve(l.exe, l.options())).To(Succeed())

	g.Expect(second.Bundled()).To(BeEmpty())
	g.Expect(bundledFiles(t, l.bundleDir)).To(Equal(firstFiles))
	g.Expect(fake.refs[l.exe]).To(Equal(firstRefs))
	g.Expect(fake.ids).To(Equal(firstIDs))
}

func TestResolveCycle(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	l.write(t, l.lib("libC.dylib"), "libC")
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib")},
		"libB": {l.lib("libC.dylib")},
		"libC": {l.lib("libB.dylib")},
	})

	err := NewResolver(fake, fake).Resolve(l.exe, l.options())

	g.Expect(err).To(MatchError(ErrCyclicDependency))
	var cyclic *CyclicDependencyError
	g.Expect(errors.As(err, &cyclic)).To(BeTrue())
	g.Expect(cyclic.Chain).To(Equal([]string{
		filepath.Join(l.bundleDir, "libB.dylib"),
		filepath.Join(l.bundleDir, "libC.dylib"),
		filepath.Join(l.bundleDir, "libB.dylib"),
	}))
}

func TestResolveNotABinary(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "#!/bin/sh")
	fake := newFakeBinaries(map[string][]string{})

	err := NewResolver(fake, fake).Resolve(l.exe, l.options())

	g.Expect(err).To(MatchError(ErrNotABinary))
	g.Expect(err.Error()).To(ContainSubstring(l.exe))
}

func TestResolveRewriteFailed(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib")},
		"libB": {},
	})
	fake.failRewrite = l.exe

	err := NewResolver(fake, fake).Resolve(l.exe, l.options())

	g.Expect(err).To(MatchError(ErrRewriteFailed))
	var rewrite *RewriteFailedError
	g.Expect(errors.As(err, &rewrite)).To(BeTrue())
	g.Expect(rewrite.Find).To(Equal(l.lib("libB.dylib")))
	g.Expect(rewrite.Replace).To(Equal("@executable_path/../Frameworks/libB.dylib"))
	// the copy stays in place and counts as settled next time
	g.Expect(filepath.Join(l.bundleDir, "libB.dylib")).To(BeARegularFile())
}

func TestResolveRelativeReferences(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	helpers := filepath.Join(filepath.Dir(l.exe), "..", "Helpers")
	g.Expect(os.MkdirAll(helpers, 0755)).To(Succeed())
	l.write(t, filepath.Join(helpers, "libB.dylib"), "libB")
	l.write(t, l.lib("libC.dylib"), "libC")
	l.write(t, l.lib("libD.dylib"), "libD")
	fake := newFakeBinaries(map[string][]string{
		"app":  {"@executable_path/../Helpers/libB.dylib"},
		"libB": {"@rpath/libC.dylib"},
		"libC": {"@loader_path/libD.dylib"},
		"libD": {},
	})

	opts := l.options()
	opts.SearchPaths = []string{l.sysDir, l.libDir}
	r := NewResolver(fake, fake)
	g.Expect(r.Resolve(l.exe, opts)).To(Succeed())

	g.Expect(bundledFiles(t, l.bundleDir)).To(ConsistOf("libB.dylib", "libC.dylib", "libD.dylib"))
	g.Expect(fake.refs[filepath.Join(l.bundleDir, "libC.dylib")]).To(Equal([]string{"@executable_path/../Frameworks/libD.dylib"}))
}

func TestResolveKeepsPermissions(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	l.write(t, l.lib("libB.dylib"), "libB")
	g.Expect(os.Chmod(l.lib("libB.dylib"), 0555)).To(Succeed())
	fake := newFakeBinaries(map[string][]string{
		"app":  {l.lib("libB.dylib")},
		"libB": {},
	})

	g.Expect(NewResolver(fake, fake).Resolve(l.exe, l.options())).To(Succeed())

	info, err := os.Stat(filepath.Join(l.bundleDir, "libB.dylib"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0755)))
	content, err := os.ReadFile(filepath.Join(l.bundleDir, "libB.dylib"))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(string(content)).To(Equal("libB"))
}

func TestMapDependencies(t *testing.T) {
	g := NewGomegaWithT(t)
	l := newLayout(t)
	l.write(t, l.exe, "app")
	fake := newFakeBinaries(map[string][]string{
		"app": {
			"@executable_path/../Frameworks/QtCore.framework/Versions/4/QtCore",
			"@executable_path/../Frameworks/QtGui.framework/Versions/4/QtGui",
			"/usr/lib/libSystem.B.dylib",
			"/opt/local/lib/libsndfile.1.dylib",
		},
	})

	mapped, err := MapDependencies(fake, l.exe, "Qt")

	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(mapped).To(Equal(map[string]string{
		"QtCore": "@executable_path/../Frameworks/QtCore.framework/Versions/4/QtCore",
		"QtGui":  "@executable_path/../Frameworks/QtGui.framework/Versions/4/QtGui",
	}))
}

func TestNormalizePrefixes(t *testing.T) {
	g := NewGomegaWithT(t)

	prefixes, err := normalizePrefixes([]string{"/usr/lib", "/System/Library/Frameworks/", "/"})

	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(prefixes).To(Equal([]string{"/usr/lib/", "/System/Library/Frameworks/", "/"}))
	g.Expect(isIgnored("/usr/lib/libSystem.B.dylib", prefixes[:1])).To(BeTrue())
	g.Expect(isIgnored("/usr/libexec/foo", prefixes[:1])).To(BeFalse())
}
