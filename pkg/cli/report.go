package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/state"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle()
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("241")).
			Padding(0, 1)

	statusStyles = map[types.BuildStatus]lipgloss.Style{
		types.BuildStatusSucceeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		types.BuildStatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		types.BuildStatusBuilding:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		types.BuildStatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

type row struct {
	key, value string
}

// renderRows lays out key/value rows with aligned keys
func renderRows(rows []row) string {
	width := 0
	for _, r := range rows {
		if w := lipgloss.Width(r.key); w > width {
			width = w
		}
	}

	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		key := keyStyle.Width(width + 2).Render(r.key)
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, key, valueStyle.Render(r.value)))
	}
	return strings.Join(lines, "\n")
}

func bundleValue(b *types.ResourceBundle) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%d res dirs, %d libs)", b.Package, len(b.ResDirs), len(b.Libs))
}

// renderLocateReport renders a resolved build configuration
func renderLocateReport(cfg types.BuildConfiguration) string {
	mode := "shared"
	if cfg.Embedded {
		mode = "embedded"
	}

	rows := []row{
		{"Android SDK", cfg.AndroidSDKDir},
		{"Crosswalk", cfg.XwalkAndroidDir},
		{"API level", fmt.Sprintf("%d", cfg.AndroidAPILevel)},
		{"Arch", string(cfg.Arch)},
		{"Mode", mode},
		{"java", cfg.Java},
		{"javac", cfg.Javac},
		{"ant", cfg.Ant},
		{"jarsigner", cfg.Jarsigner},
		{"aapt", cfg.Aapt},
		{"dx", cfg.Dx},
		{"zipalign", cfg.Zipalign},
		{"anttasks.jar", cfg.AnttasksJar},
		{"android.jar", cfg.AndroidJar},
		{"Runtime client jar", cfg.XwalkRuntimeClientJar},
		{"Ant package file", cfg.XwalkApkPackageAntFile},
		{"Keystore", cfg.Keystore},
	}
	if cfg.Embedded {
		rows = append(rows,
			row{"Embedded jar", cfg.XwalkEmbeddedJar},
			row{"Assets", cfg.XwalkAssets},
			row{"Native libs", cfg.NativeLibs},
			row{"Core resources", bundleValue(cfg.XwalkCoreResources)},
			row{"UI resources", bundleValue(cfg.ChromiumUIResources)},
			row{"Content resources", bundleValue(cfg.ChromiumContentResources)},
		)
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Build environment"),
		"",
		renderRows(rows),
	)
	return boxStyle.Render(body)
}

// renderStatusReport renders one block per app, sorted by name
func renderStatusReport(states map[string]*state.AppState) string {
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	blocks := make([]string, 0, len(names))
	for _, name := range names {
		st := states[name]

		status := string(st.Status)
		if style, ok := statusStyles[st.Status]; ok {
			status = style.Render(status)
		}

		rows := []row{
			{"Status", status},
			{"Builds", fmt.Sprintf("%d (%d failed)", st.BuildCount, st.FailureCount)},
			{"Updated", st.UpdatedAt.Format(time.DateTime)},
		}
		if b := st.LastBuild; b != nil {
			rows = append(rows,
				row{"Build ID", b.BuildID},
				row{"Arch", string(b.Arch)},
				row{"Duration", b.Duration.Round(time.Millisecond).String()},
			)
			if b.OutputApk != "" {
				rows = append(rows, row{"Apk", b.OutputApk})
			}
			if b.Stage != "" {
				rows = append(rows, row{"Failed stage", b.Stage})
			}
			if b.Error != "" {
				rows = append(rows, row{"Error", firstLine(b.Error)})
			}
		}

		blocks = append(blocks, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render(name),
			"",
			renderRows(rows),
		)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
