// Package definitions loads declarative piece definitions: lists of pieces
// guarded by criteria (regular expressions over query fields such as arch or
// embedded mode), so the set of pieces to locate can be chosen per build.
package definitions

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/locator"
)

//go:embed xwalk_android.yaml
var defaultDefinitions []byte

// ErrInvalidDefinition is returned for malformed definition files
var ErrInvalidDefinition = errors.New("invalid piece definition")

// rawDefinition is one entry of a definitions file
type rawDefinition struct {
	Criteria map[string][]string `mapstructure:"criteria"`
	Pieces   map[string]rawPiece `mapstructure:"pieces"`
}

// rawPiece carries the union of every piece shape; exactly one shape may be
// filled in.
type rawPiece struct {
	Files     []string `mapstructure:"files"`
	Exe       string   `mapstructure:"exe"`
	GuessDirs []string `mapstructure:"guessDirs"`
	Directory string   `mapstructure:"directory"`
	ResDirs   []string `mapstructure:"resDirs"`
	Libs      []string `mapstructure:"libs"`
	Pkg       string   `mapstructure:"pkg"`
	TieBreak  string   `mapstructure:"tieBreak"`
}

type definition struct {
	criteria map[string][]*regexp.Regexp
	pieces   map[string]rawPiece
}

// Definitions is a parsed, validated definitions file
type Definitions struct {
	defs []definition
}

// Default returns the built-in Crosswalk Android definitions
func Default() (*Definitions, error) {
	return Load(bytes.NewReader(defaultDefinitions))
}

// Load parses YAML (or JSON) definitions from r
func Load(r io.Reader) (*Definitions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	var generic []map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	defs := make([]definition, 0, len(generic))
	for i, g := range generic {
		var raw rawDefinition
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			ErrorUnused: true,
			Result:      &raw,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(g); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidDefinition, i, err)
		}

		def, err := compile(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidDefinition, i, err)
		}
		defs = append(defs, def)
	}

	return &Definitions{defs: defs}, nil
}

func compile(raw rawDefinition) (definition, error) {
	def := definition{
		criteria: make(map[string][]*regexp.Regexp, len(raw.Criteria)),
		pieces:   raw.Pieces,
	}

	for field, patterns := range raw.Criteria {
		for _, p := range patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return definition{}, fmt.Errorf("criterion %s: %w", field, err)
			}
			def.criteria[field] = append(def.criteria[field], re)
		}
	}

	for name, p := range raw.Pieces {
		if _, err := p.toPiece(nil); err != nil {
			return definition{}, fmt.Errorf("piece %s: %w", name, err)
		}
	}
	return def, nil
}

func (d definition) matches(query map[string]string) bool {
	for field, regexes := range d.criteria {
		value := query[field]
		ok := false
		for _, re := range regexes {
			if re.MatchString(value) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// ForQuery returns the pieces of every definition whose criteria all match
// query. A criterion matches when any of its patterns matches the query
// value (case-insensitively). Later definitions replace earlier pieces of
// the same name.
func (d *Definitions) ForQuery(query map[string]string, table locator.VersionTable) (map[string]locator.Piece, error) {
	out := make(map[string]locator.Piece)
	for _, def := range d.defs {
		if !def.matches(query) {
			continue
		}
		for name, raw := range def.pieces {
			piece, err := raw.toPiece(table)
			if err != nil {
				return nil, fmt.Errorf("piece %s: %w", name, err)
			}
			out[name] = piece
		}
	}
	return out, nil
}

// Names returns every piece name mentioned by any definition, sorted
func (d *Definitions) Names() []string {
	seen := make(map[string]bool)
	for _, def := range d.defs {
		for name := range def.pieces {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p rawPiece) toPiece(table locator.VersionTable) (locator.Piece, error) {
	shapes := 0
	for _, set := range []bool{len(p.Files) > 0, p.Exe != "", p.Directory != "", len(p.ResDirs) > 0 || len(p.Libs) > 0} {
		if set {
			shapes++
		}
	}
	if shapes != 1 {
		return nil, errors.New("exactly one of files, exe, directory or resDirs/libs must be set")
	}

	tieBreak, err := parseTieBreak(p.TieBreak, table)
	if err != nil {
		return nil, err
	}

	switch {
	case len(p.Files) > 0:
		return locator.SingleFile{Files: p.Files, GuessDirs: fixSeparators(p.GuessDirs), TieBreak: tieBreak}, nil
	case p.Exe != "":
		return locator.Executable{Name: p.Exe, GuessDirs: fixSeparators(p.GuessDirs), TieBreak: tieBreak}, nil
	case p.Directory != "":
		return locator.DirectoryGroup{Dir: filepath.FromSlash(p.Directory), TieBreak: tieBreak}, nil
	default:
		if p.Pkg == "" {
			return nil, errors.New("resource bundle needs pkg")
		}
		return locator.ResourceBundle{ResDirs: fixSeparators(p.ResDirs), Libs: fixSeparators(p.Libs), Package: p.Pkg}, nil
	}
}

func parseTieBreak(name string, table locator.VersionTable) (locator.TieBreak, error) {
	switch name {
	case "":
		return nil, nil
	case "last":
		return locator.LastSorted, nil
	case "first":
		return locator.FirstSorted, nil
	case "latestVersion":
		if table == nil {
			table = locator.DefaultVersionTable()
		}
		return locator.LatestVersion(table), nil
	default:
		return nil, fmt.Errorf("unknown tieBreak %q", name)
	}
}

func fixSeparators(paths []string) []string {
	if len(paths) == 0 {
		return nil
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.FromSlash(p)
	}
	return out
}
