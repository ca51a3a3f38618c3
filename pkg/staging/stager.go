package staging

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/spf13/afero"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

// IgnoreFileName holds gitignore-style patterns, relative to the app root,
// for files that must not be copied into assets/
const IgnoreFileName = ".xwalkignore"

// DefaultIconName is the drawable name of the generated icon
const DefaultIconName = "crosswalk"

//go:embed templates/*.tmpl
var templateFS embed.FS

var versionNumbers = regexp.MustCompile(`\d+`)

// ErrInputInStagingDir is returned when an app input lies inside a
// directory that staging empties
var ErrInputInStagingDir = errors.New("staging: input lies inside a directory that is cleared before staging")

// AppData is the template data for generated sources and resources
type AppData struct {
	Name              string
	Version           string
	VersionCode       int
	Package           string
	ActivityClassName string
	Theme             string
	Orientation       string
	IconName          string
	AppURL            string
	Permissions       []string
	RemoteDebugging   bool
	TargetSdkVersion  int
}

// Stager prepares a Layout's directories and inputs before the toolchain runs
type Stager struct {
	fsu       *utils.FileSystemUtils
	log       logger.Logger
	templates *template.Template
}

// NewStager creates a stager writing through fs (nil means the OS filesystem)
func NewStager(fs afero.Fs, log logger.Logger) (*Stager, error) {
	tmpl, err := template.New("staging").Funcs(template.FuncMap{
		"xml":  escapeXML,
		"java": strconv.Quote,
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	if log == nil {
		log = logger.Discard()
	}

	return &Stager{
		fsu:       utils.NewFileSystemUtils(fs),
		log:       log.WithComponent("staging"),
		templates: tmpl,
	}, nil
}

// NewAppData builds template data for app. The app must already have its
// defaults applied (sanitised name, theme, permissions).
func NewAppData(app types.AppConfig, targetSDK int, layout *Layout) AppData {
	url := app.AppURL
	if url == "" {
		url = "file:///android_asset/" + filepath.ToSlash(app.AppLocalPath)
	}

	iconName := DefaultIconName
	icon := app.Icon
	if len(app.Icons) > 0 {
		icon = DensityIcons(app.Icons)[DrawableDensities()[0]]
	}
	if icon != "" {
		base := filepath.Base(icon)
		iconName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return AppData{
		Name:              app.Name,
		Version:           app.Version,
		VersionCode:       VersionCode(app.Version),
		Package:           layout.Package(),
		ActivityClassName: layout.ActivityClassName(),
		Theme:             app.Theme,
		Orientation:       app.Orientation,
		IconName:          iconName,
		AppURL:            url,
		Permissions:       app.AllPermissions(),
		RemoteDebugging:   app.RemoteDebugging,
		TargetSdkVersion:  targetSDK,
	}
}

// VersionCode folds up to three numeric components of version into the
// integer Android compares: 1.2.3 becomes 10203. The minimum is 1.
func VersionCode(version string) int {
	parts := versionNumbers.FindAllString(version, 3)
	code := 0
	for i := 0; i < 3; i++ {
		code *= 100
		if i < len(parts) {
			n, _ := strconv.Atoi(parts[i])
			code += n % 100
		}
	}
	if code == 0 {
		return 1
	}
	return code
}

// Stage empties and recreates the layout's directories, copies the
// application, Java sources, icons, extension APIs and extra assets into
// place and writes the manifest, activity source and strings resource.
func (s *Stager) Stage(ctx context.Context, app types.AppConfig, targetSDK int, layout *Layout) error {
	steps := []struct {
		name string
		run  func() error
	}{
		{"prepare directories", func() error { return s.prepareDirectories(app, layout) }},
		{"copy icons", func() error { return s.stageIcons(app, layout) }},
		{"copy java sources", func() error { return s.copyJavaSources(app, layout) }},
		{"copy extensions", func() error { return s.copyExtensions(app, layout) }},
		{"copy assets", func() error { return s.copyAssets(layout) }},
		{"copy app", func() error { return s.copyApp(app, layout) }},
		{"write sources", func() error { return s.writeGenerated(NewAppData(app, targetSDK, layout), layout) }},
		{"write extensions config", func() error { return s.writeExtensionsConfig(app, layout) }},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.log.Debug("Staging step", logger.WithField("step", step.name))
		if err := step.run(); err != nil {
			return fmt.Errorf("staging: %s: %w", step.name, err)
		}
	}

	s.log.Info("Staged application",
		logger.WithField("app", layout.Name()),
		logger.WithField("dest", layout.DestDir()))
	return nil
}

func (s *Stager) prepareDirectory(dir string) error {
	if s.fsu.IsFile(dir) {
		return fmt.Errorf("could not prepare directory %s as it already exists and is a file", dir)
	}
	return s.fsu.CreateDirectory(dir)
}

// prepareDirectories empties the staged copies left by an earlier build in
// the same layout, then creates the directories staging writes to.
func (s *Stager) prepareDirectories(app types.AppConfig, layout *Layout) error {
	cleared := []string{
		layout.ClassesDir(),
		layout.ResDir(),
		layout.AssetsDir(),
		layout.SrcDir(),
	}
	if err := checkInputsOutside(app, layout, cleared); err != nil {
		return err
	}

	for _, dir := range cleared {
		if s.fsu.IsFile(dir) {
			return fmt.Errorf("could not prepare directory %s as it already exists and is a file", dir)
		}
		if err := s.fsu.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear %s: %w", dir, err)
		}
	}

	dirs := append(cleared, layout.JavaPackageDir())
	if len(app.Extensions) > 0 {
		dirs = append(dirs, layout.ExtensionsJsDir())
	}
	for _, dir := range dirs {
		if err := s.prepareDirectory(dir); err != nil {
			return err
		}
	}
	return nil
}

func checkInputsOutside(app types.AppConfig, layout *Layout, cleared []string) error {
	inputs := []string{app.AppRoot, app.Icon}
	inputs = append(inputs, app.JavaSrcDirs...)
	inputs = append(inputs, layout.Assets()...)
	for _, icon := range app.Icons {
		inputs = append(inputs, icon)
	}
	for _, ext := range app.Extensions {
		inputs = append(inputs, ext.JsAPI)
	}

	for _, input := range inputs {
		if input == "" {
			continue
		}
		for _, dir := range cleared {
			if within(input, dir) {
				return fmt.Errorf("%w: %s is under %s", ErrInputInStagingDir, input, dir)
			}
		}
	}
	return nil
}

// within reports whether p is dir or lies below it
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// DensityIcons fills the densities icons leaves out with the largest icon
// it does give
func DensityIcons(icons map[string]string) map[string]string {
	densities := DrawableDensities()
	largest := ""
	for _, d := range densities {
		if icons[d] != "" {
			largest = icons[d]
			break
		}
	}

	out := make(map[string]string, len(densities))
	for _, d := range densities {
		out[d] = icons[d]
		if out[d] == "" {
			out[d] = largest
		}
	}
	return out
}

// stageIcons copies per-density icons into res/drawable-<density>, a single
// configured icon into res/drawable, or writes the generated default icon
// into every res/drawable-<density> directory.
func (s *Stager) stageIcons(app types.AppConfig, layout *Layout) error {
	dirs := layout.DrawableDirs()

	switch {
	case len(app.Icons) > 0:
		icons := DensityIcons(app.Icons)
		for _, density := range DrawableDensities() {
			if err := s.prepareDirectory(dirs[density]); err != nil {
				return err
			}
			icon := icons[density]
			if err := s.fsu.CopyFile(icon, filepath.Join(dirs[density], filepath.Base(icon))); err != nil {
				return err
			}
		}
		return nil

	case app.Icon != "":
		dir := layout.DefaultDrawableDir()
		if err := s.prepareDirectory(dir); err != nil {
			return err
		}
		return s.fsu.CopyFile(app.Icon, filepath.Join(dir, filepath.Base(app.Icon)))
	}

	sizes := IconSizes()
	for _, density := range DrawableDensities() {
		if err := s.prepareDirectory(dirs[density]); err != nil {
			return err
		}
		data, err := DefaultIcon(sizes[density])
		if err != nil {
			return err
		}
		if err := s.fsu.WriteFile(filepath.Join(dirs[density], DefaultIconName+".png"), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) copyJavaSources(app types.AppConfig, layout *Layout) error {
	for _, dir := range app.JavaSrcDirs {
		if err := s.fsu.CopyDirectory(dir, layout.SrcDir(), nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) copyExtensions(app types.AppConfig, layout *Layout) error {
	for _, name := range app.ExtensionNames() {
		jsapi := app.Extensions[name].JsAPI
		if err := s.fsu.CopyFile(jsapi, filepath.Join(layout.ExtensionsJsDir(), filepath.Base(jsapi))); err != nil {
			return fmt.Errorf("extension %s: %w", name, err)
		}
	}
	return nil
}

// copyAssets copies each extra asset into assets/: directory contents are
// merged in, files keep their base name.
func (s *Stager) copyAssets(layout *Layout) error {
	for _, asset := range layout.Assets() {
		if s.fsu.IsDirectory(asset) {
			if err := s.fsu.CopyDirectory(asset, layout.AssetsDir(), nil); err != nil {
				return err
			}
			continue
		}
		if err := s.fsu.CopyFile(asset, filepath.Join(layout.AssetsDir(), filepath.Base(asset))); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stager) copyApp(app types.AppConfig, layout *Layout) error {
	if app.AppRoot == "" {
		return nil
	}

	matcher, err := s.IgnoreMatcher(app.AppRoot)
	if err != nil {
		return err
	}

	skipped := 0
	err = s.fsu.CopyDirectory(app.AppRoot, layout.AssetsDir(), func(rel string, isDir bool) bool {
		if matcher.Match(strings.Split(rel, "/"), isDir) {
			skipped++
			return true
		}
		return false
	})
	if err != nil {
		return err
	}

	if skipped > 0 {
		s.log.Debug("Ignored app files", logger.WithField("count", skipped))
	}
	return nil
}

// IgnoreMatcher combines the default exclusions with the patterns of the
// app root's ignore file, if present. The ignore file itself is excluded.
func (s *Stager) IgnoreMatcher(appRoot string) (gitignore.Matcher, error) {
	var patterns []gitignore.Pattern
	for _, p := range utils.GetDefaultExclusions() {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	patterns = append(patterns, gitignore.ParsePattern(IgnoreFileName, nil))

	ignoreFile := filepath.Join(appRoot, IgnoreFileName)
	if s.fsu.IsFile(ignoreFile) {
		data, err := s.fsu.ReadFile(ignoreFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ignoreFile, err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	return gitignore.NewMatcher(patterns), nil
}

func (s *Stager) writeGenerated(data AppData, layout *Layout) error {
	outputs := []struct {
		template string
		path     string
	}{
		{"strings.xml.tmpl", filepath.Join(layout.ResDir(), "values", "strings.xml")},
		{"AndroidManifest.xml.tmpl", layout.AndroidManifest()},
		{"Activity.java.tmpl", filepath.Join(layout.JavaPackageDir(), data.ActivityClassName+".java")},
	}

	for _, out := range outputs {
		var buf bytes.Buffer
		if err := s.templates.ExecuteTemplate(&buf, out.template, data); err != nil {
			return fmt.Errorf("failed to render %s: %w", out.template, err)
		}
		if err := s.fsu.WriteFile(out.path, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// extensionEntry is one element of extensions-config.json
type extensionEntry struct {
	Name        string   `json:"name"`
	Class       string   `json:"class"`
	JsAPI       string   `json:"jsapi"`
	Permissions []string `json:"permissions,omitempty"`
}

// writeExtensionsConfig declares the app's extensions to the runtime. Each
// jsapi path is relative to assets/ and separated by '/'.
func (s *Stager) writeExtensionsConfig(app types.AppConfig, layout *Layout) error {
	if len(app.Extensions) == 0 {
		return nil
	}

	rel, err := filepath.Rel(layout.AssetsDir(), layout.ExtensionsJsDir())
	if err != nil {
		return err
	}

	entries := make([]extensionEntry, 0, len(app.Extensions))
	for _, name := range app.ExtensionNames() {
		ext := app.Extensions[name]
		entries = append(entries, extensionEntry{
			Name:        name,
			Class:       ext.Class,
			JsAPI:       filepath.ToSlash(filepath.Join(rel, filepath.Base(ext.JsAPI))),
			Permissions: ext.Permissions,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ExtensionsConfigName, err)
	}
	return s.fsu.WriteFile(layout.ExtensionsConfig(), append(data, '\n'))
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
