// Package staging derives the on-disk layout of a build and prepares it:
// directories, copied application assets, generated sources and resources.
package staging

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

// DefaultDestDirName is created under the system temp directory when no
// destination is given
const DefaultDestDirName = "xwalk-apk-gen"

// ExtensionsConfigName is the file under assets/ the Crosswalk runtime
// reads extension declarations from
const ExtensionsConfigName = "extensions-config.json"

// DrawableDensities lists the res/drawable-* densities, largest first
func DrawableDensities() []string {
	return []string{"xhdpi", "hdpi", "mdpi", "ldpi"}
}

var (
	ErrEmptyName    = errors.New("layout: name must be set")
	ErrEmptyPackage = errors.New("layout: package must be set")
	ErrEmptyArch    = errors.New("layout: arch must be set")
)

// Layout is the set of paths one build reads and writes. It is immutable
// once constructed; slice and map getters return copies.
type Layout struct {
	name    string
	pkg     string
	arch    types.Arch
	destDir string
	extDir  string

	buildJars  []string
	jars       []string
	assets     []string
	nativeLibs []string
	resources  map[string]types.ResourceBundle
}

// Option configures the build inputs recorded in a Layout
type Option func(*Layout)

// WithBuildJars adds jars to the compile classpath
func WithBuildJars(jars ...string) Option {
	return func(l *Layout) { l.buildJars = append(l.buildJars, jars...) }
}

// WithJars adds jars to be dexed into the apk
func WithJars(jars ...string) Option {
	return func(l *Layout) { l.jars = append(l.jars, jars...) }
}

// WithAssets adds files or directories copied into assets/
func WithAssets(paths ...string) Option {
	return func(l *Layout) { l.assets = append(l.assets, paths...) }
}

// WithNativeLibs adds native library directories folded into the apk
func WithNativeLibs(dirs ...string) Option {
	return func(l *Layout) { l.nativeLibs = append(l.nativeLibs, dirs...) }
}

// WithResources registers an auxiliary resource bundle under id. A nil
// bundle is ignored.
func WithResources(id string, bundle *types.ResourceBundle) Option {
	return func(l *Layout) {
		if bundle == nil {
			return
		}
		l.resources[id] = types.ResourceBundle{
			ResDirs: append([]string(nil), bundle.ResDirs...),
			Libs:    append([]string(nil), bundle.Libs...),
			Package: bundle.Package,
		}
	}
}

// NewLayout derives a layout for the sanitised app name, Java package and
// arch. An empty destDir means os.TempDir()/xwalk-apk-gen; a relative one
// is made absolute.
func NewLayout(name, pkg string, arch types.Arch, destDir string, opts ...Option) (*Layout, error) {
	switch {
	case name == "":
		return nil, ErrEmptyName
	case pkg == "":
		return nil, ErrEmptyPackage
	case arch == "":
		return nil, ErrEmptyArch
	}

	if destDir == "" {
		destDir = filepath.Join(os.TempDir(), DefaultDestDirName)
	} else if abs, err := filepath.Abs(destDir); err == nil {
		destDir = abs
	}

	l := &Layout{
		name:      name,
		pkg:       pkg,
		arch:      arch,
		destDir:   filepath.Clean(destDir),
		extDir:    uuid.New().String()[:8] + "-xwalk-extensions",
		resources: make(map[string]types.ResourceBundle),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// ForBuild creates the layout for an app built against cfg, registering
// the classpath, bundled jars and (in embedded mode) the Crosswalk runtime
// pieces.
func ForBuild(app types.AppConfig, cfg types.BuildConfiguration, destDir string) (*Layout, error) {
	opts := []Option{
		WithBuildJars(cfg.AndroidJar, cfg.XwalkRuntimeClientJar),
		WithJars(cfg.XwalkRuntimeClientJar),
		WithJars(app.Jars...),
		WithBuildJars(app.Jars...),
	}
	if cfg.Embedded {
		opts = append(opts,
			WithJars(cfg.XwalkEmbeddedJar),
			WithAssets(cfg.XwalkAssets),
			WithNativeLibs(cfg.NativeLibs),
			WithResources("xwalkCore", cfg.XwalkCoreResources),
			WithResources("chromiumUi", cfg.ChromiumUIResources),
			WithResources("chromiumContent", cfg.ChromiumContentResources),
		)
	}
	return NewLayout(app.SanitisedName, app.Package, cfg.Arch, destDir, opts...)
}

func (l *Layout) Name() string     { return l.name }
func (l *Layout) Package() string  { return l.pkg }
func (l *Layout) Arch() types.Arch { return l.arch }
func (l *Layout) DestDir() string  { return l.destDir }

func (l *Layout) ClassesDir() string      { return filepath.Join(l.destDir, "classes") }
func (l *Layout) DexFile() string         { return filepath.Join(l.destDir, "classes.dex") }
func (l *Layout) ResDir() string          { return filepath.Join(l.destDir, "res") }
func (l *Layout) AssetsDir() string       { return filepath.Join(l.destDir, "assets") }
func (l *Layout) SrcDir() string          { return filepath.Join(l.destDir, "src") }
func (l *Layout) AndroidManifest() string { return filepath.Join(l.destDir, "AndroidManifest.xml") }

// ResPackageApk is the intermediate resource-only package, <name>.<arch>.ap_
func (l *Layout) ResPackageApk() string {
	return filepath.Join(l.destDir, l.name+"."+string(l.arch)+".ap_")
}

func (l *Layout) UnsignedApk() string {
	return filepath.Join(l.destDir, l.name+"-unsigned."+string(l.arch)+".apk")
}

func (l *Layout) SignedApk() string {
	return filepath.Join(l.destDir, l.name+"-signed."+string(l.arch)+".apk")
}

// FinalApk is the signed and aligned output
func (l *Layout) FinalApk() string {
	return filepath.Join(l.destDir, l.name+"."+string(l.arch)+".apk")
}

// JavaPackageDir maps the Java package onto directories under SrcDir
func (l *Layout) JavaPackageDir() string {
	return filepath.Join(append([]string{l.SrcDir()}, strings.Split(l.pkg, ".")...)...)
}

// ActivityClassName is the generated launcher activity's class name
func (l *Layout) ActivityClassName() string {
	r, size := utf8.DecodeRuneInString(l.name)
	return string(unicode.ToUpper(r)) + l.name[size:] + "Activity"
}

func (l *Layout) DefaultDrawableDir() string { return filepath.Join(l.ResDir(), "drawable") }

// ExtensionsJsDir holds the extensions' JavaScript API files. Its name is
// unique per layout so it cannot collide with a directory of the app.
func (l *Layout) ExtensionsJsDir() string { return filepath.Join(l.AssetsDir(), l.extDir) }

func (l *Layout) ExtensionsConfig() string {
	return filepath.Join(l.AssetsDir(), ExtensionsConfigName)
}

// DrawableDirs maps each density to its res/drawable-<density> directory
func (l *Layout) DrawableDirs() map[string]string {
	densities := DrawableDensities()
	dirs := make(map[string]string, len(densities))
	for _, d := range densities {
		dirs[d] = filepath.Join(l.ResDir(), "drawable-"+d)
	}
	return dirs
}

func (l *Layout) BuildJars() []string  { return copyStrings(l.buildJars) }
func (l *Layout) Jars() []string       { return copyStrings(l.jars) }
func (l *Layout) Assets() []string     { return copyStrings(l.assets) }
func (l *Layout) NativeLibs() []string { return copyStrings(l.nativeLibs) }

// Resources returns a copy of the registered resource bundles
func (l *Layout) Resources() map[string]types.ResourceBundle {
	out := make(map[string]types.ResourceBundle, len(l.resources))
	for id, b := range l.resources {
		out[id] = types.ResourceBundle{
			ResDirs: copyStrings(b.ResDirs),
			Libs:    copyStrings(b.Libs),
			Package: b.Package,
		}
	}
	return out
}

// ResourceIDs returns the registered bundle ids, sorted
func (l *Layout) ResourceIDs() []string {
	ids := make([]string, 0, len(l.resources))
	for id := range l.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResourceDirs is every directory aapt reads resources from: the app's own
// res/ followed by each bundle's libs and resource dirs in id order.
func (l *Layout) ResourceDirs() []string {
	dirs := []string{l.ResDir()}
	for _, id := range l.ResourceIDs() {
		b := l.resources[id]
		dirs = append(dirs, b.Dirs()...)
	}
	return dirs
}

// Intermediates are the files a build produces before the final apk
func (l *Layout) Intermediates() []string {
	return []string{l.ResPackageApk(), l.DexFile(), l.UnsignedApk(), l.SignedApk()}
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
