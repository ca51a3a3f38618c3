// Package cli provides the command-line interface for xwalk-apkgen
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/engine"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/config"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// CLI encapsulates the command-line interface and makes it testable
// by eliminating global state.
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	settings *settings
	configs  *config.Manager
	fs       afero.Fs
	deps     interfaces.GeneratorDependencies
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// Option configures a CLI
type Option func(*CLI)

// WithFs runs every command against fs
func WithFs(fs afero.Fs) Option {
	return func(c *CLI) { c.fs = fs }
}

// WithDependencies overrides the generator dependencies; nil members keep
// their production implementation
func WithDependencies(deps interfaces.GeneratorDependencies) Option {
	return func(c *CLI) { c.deps = deps }
}

// WithOutput sets the writers for command output and diagnostics
func WithOutput(output, errorOut io.Writer) Option {
	return func(c *CLI) {
		c.output = output
		c.errorOut = errorOut
	}
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(cfg *Config, opts ...Option) *CLI {
	if cfg == nil {
		cfg = NewConfig()
	}

	c := &CLI{
		config:   cfg,
		fs:       afero.NewOsFs(),
		logger:   logger.Discard(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.configs = config.NewManager(c.fs)
	c.settings = newSettings(c.fs)

	c.setupCommands()
	return c
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "xwalk-apkgen",
		Short: "Build Android apks from HTML5 apps with Crosswalk",
		Long: `xwalk-apkgen packages an HTML5 application into an Android apk using the
Crosswalk runtime. It locates the Android SDK and Crosswalk pieces it needs,
stages the app and drives aapt, javac, dx, jarsigner and zipalign.`,

		PersistentPreRunE: c.initializeConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)
	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("xwalk-apkgen v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newLocateCmd())
	c.rootCmd.AddCommand(c.newCheckCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", "", "project file (default: xwalk-apkgen.yaml in the project root)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "project root; build state is kept under it")
	flags.BoolVarP(&c.config.Verbose, "verbose", "v", false, "log every command run")

	flags.String("env-config", "", "environment configuration file (JSON or YAML)")
	flags.StringP("android-sdk-dir", "a", "", "Android SDK root")
	flags.StringP("xwalk-android-dir", "x", "", "Crosswalk Android distribution root")
	flags.Int("android-api-level", 0, "Android API level to build against (default: highest installed)")
	flags.String("arch", "", "target architecture: x86 or arm (default x86)")
	flags.Bool("embedded", true, "embed the Crosswalk runtime in the apk")
	flags.String("keystore", "", "keystore used to sign the apk")
	flags.String("keystore-alias", "", "keystore alias")
	flags.String("keystore-password", "", "keystore password")
	flags.Duration("tool-timeout", 0, "limit for each external tool run (0 means no limit)")
}

// addAppFlags adds the flags describing the app to package
func addAppFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("app-config", "", "app configuration file (JSON or YAML)")
	flags.String("name", "", "application name")
	flags.String("package", "", "Java package, e.g. org.example.app")
	flags.String("version", "", "application version (default 1.0.0)")
	flags.String("app-root", "", "directory holding the app files")
	flags.String("app-local-path", "", "start page, relative to the app root")
	flags.String("app-url", "", "remote start URL, instead of a local app")
	flags.String("icon", "", "launcher icon (png)")
	flags.StringToString("icons", nil, "launcher icon per density, e.g. xhdpi=icon96.png,mdpi=icon48.png")
	flags.String("ext-config", "", "Crosswalk extensions file (JSON or YAML)")
	flags.Bool("fullscreen", false, "run the app fullscreen")
	flags.String("orientation", "", "screen orientation: landscape or portrait")
	flags.StringP("out-dir", "o", ".", "directory the apk is written to")
	flags.String("build-dir", "", "staging directory (default: under the system temp dir)")
	flags.Bool("cleanup", false, "remove intermediate files of failed builds")
	flags.IntP("jobs", "j", 0, "R.java generations run at once (default: number of CPUs)")
	flags.Bool("notify", false, "show a desktop notification for build results")
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	level := "info"
	if c.config.Verbose {
		level = "debug"
	}
	c.logger = logger.CreateLoggerWithOutput(level, c.errorOut)

	used, err := c.settings.readProjectFile(c.config)
	if err != nil {
		return err
	}
	if used != "" {
		c.logger.Debug("Using project file", logger.WithField("file", used))
	}

	c.settings.bindFlags(cmd.Flags())
	return nil
}

// dependencyFactory builds the generator dependencies from the settings
func (c *CLI) dependencyFactory() *engine.DependencyFactory {
	return engine.NewDependencyFactory(c.fs, c.logger, engine.FactoryConfig{
		StateRoot:   c.config.ProjectRoot,
		Notify:      c.settings.getBool("notify"),
		ToolTimeout: c.settings.getDuration("tool-timeout"),
		WorkDir:     c.config.ProjectRoot,
	})
}

// Helper methods for user facing output

func (c *CLI) printSuccess(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.GreenString("[xwalk-apkgen]"), message)
}

func (c *CLI) printError(message string) {
	fmt.Fprintf(c.errorOut, "%s %s\n", color.RedString("[xwalk-apkgen]"), message)
}

func (c *CLI) printInfo(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.CyanString("[xwalk-apkgen]"), message)
}

func (c *CLI) printWarning(message string) {
	fmt.Fprintf(c.output, "%s %s\n", color.YellowString("[xwalk-apkgen]"), message)
}

// ExecuteWithVersion runs the CLI on the process arguments
func ExecuteWithVersion(version string) error {
	cfg := NewConfig()
	cfg.Version = version
	c := NewCLI(cfg)
	if err := c.Execute(os.Args[1:]); err != nil {
		c.printError(err.Error())
		return err
	}
	return nil
}
