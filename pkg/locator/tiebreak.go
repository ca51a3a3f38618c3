package locator

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

// TieBreak chooses one path out of several matches. Candidates are passed
// sorted lexicographically and are never empty.
type TieBreak func(candidates []string) string

// LastSorted picks the lexicographically last candidate, which for
// versioned directories is usually the newest.
func LastSorted(candidates []string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1]
}

// FirstSorted picks the lexicographically first candidate
func FirstSorted(candidates []string) string {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return sorted[0]
}

// VersionTable maps Android API levels to platform versions
type VersionTable map[int]string

// DefaultVersionTable is the built-in API level table
func DefaultVersionTable() VersionTable {
	return VersionTable{
		19: "4.4",
		18: "4.3",
		17: "4.2",
		16: "4.1",
		15: "4.0.3",
		14: "4.0",
	}
}

// Merge returns a copy of t with the entries of other added or replaced
func (t VersionTable) Merge(other map[int]string) VersionTable {
	out := make(VersionTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// AndroidVersion returns the platform version for an API level
func (t VersionTable) AndroidVersion(apiLevel int) (string, bool) {
	v, ok := t[apiLevel]
	return v, ok
}

// APILevel returns the API level whose platform version is androidVersion.
// When several levels share the version the highest wins.
func (t VersionTable) APILevel(androidVersion string) (int, bool) {
	for _, level := range t.levels() {
		if t[level] == androidVersion {
			return level, true
		}
	}
	return 0, false
}

// levels returns the table's API levels, highest first
func (t VersionTable) levels() []int {
	levels := make([]int, 0, len(t))
	for level := range t {
		levels = append(levels, level)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))
	return levels
}

// HighestLevel returns the highest API level in the table
func (t VersionTable) HighestLevel() int {
	highest := 0
	for level := range t {
		if level > highest {
			highest = level
		}
	}
	return highest
}

// DirVersion derives a comparable version from a versioned directory name.
// "19.0.1" parses as itself; "android-4.4" maps through the table to
// "19.0.0"; "android-19" becomes "19.0.0".
func (t VersionTable) DirVersion(dir string) (*version.Version, bool) {
	name := dir
	if strings.HasPrefix(name, "android-") {
		suffix := strings.TrimPrefix(name, "android-")
		if level, err := strconv.Atoi(suffix); err == nil {
			name = strconv.Itoa(level) + ".0.0"
		} else if level, ok := t.APILevel(suffix); ok {
			name = strconv.Itoa(level) + ".0.0"
		} else {
			return nil, false
		}
	}

	v, err := version.NewVersion(name)
	if err != nil {
		return nil, false
	}
	return v, true
}

// LatestVersion picks the candidate whose parent directory carries the
// highest version. Unparsable versions rank lowest; equal versions fall
// back to lexicographic order.
func LatestVersion(table VersionTable) TieBreak {
	return func(candidates []string) string {
		type ranked struct {
			path string
			ver  *version.Version
		}

		items := make([]ranked, 0, len(candidates))
		for _, c := range candidates {
			parent := filepath.Base(filepath.Dir(strings.TrimRight(c, `/\`)))
			v, _ := table.DirVersion(parent)
			items = append(items, ranked{path: c, ver: v})
		}

		sort.SliceStable(items, func(i, j int) bool {
			a, b := items[i], items[j]
			switch {
			case a.ver == nil && b.ver == nil:
				return a.path < b.path
			case a.ver == nil:
				return true
			case b.ver == nil:
				return false
			case a.ver.Equal(b.ver):
				return a.path < b.path
			default:
				return a.ver.LessThan(b.ver)
			}
		})

		return items[len(items)-1].path
	}
}
