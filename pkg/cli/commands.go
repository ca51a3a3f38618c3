package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/engine"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/state"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/env"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an apk once",
		Long: `Locate the build environment, stage the app and build the apk.

Settings come from environment variables (XWALK_ prefix), flags, the
--env-config and --app-config files and the project file, in that order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runBuild(cmd.Context())
		},
	}
	addAppFlags(cmd)
	return cmd
}

func (c *CLI) newLocateCmd() *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Locate the Android SDK and Crosswalk pieces",
		Long: `Resolve the build environment without building. The resolved
configuration can be written to a file and passed back with --env-config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runLocate(cmd.Context(), write)
		},
	}
	cmd.Flags().StringVarP(&write, "write", "w", "", "write the resolved configuration to this file")
	return cmd
}

func (c *CLI) newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the build environment is usable",
		Long:  `Resolve the build environment and run the java, javac, ant and jarsigner checks.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCheck(cmd.Context())
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [app]",
		Short: "Show the last build of each app",
		Long:  `Display the build state recorded under the project root.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := ""
			if len(args) > 0 {
				app = args[0]
			}
			return c.runStatus(app)
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of xwalk-apkgen",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "xwalk-apkgen v%s\n", c.config.Version)
		},
	}
}

// Implementation functions

// dependencies returns the generator dependencies with the CLI overrides
func (c *CLI) dependencies() interfaces.GeneratorDependencies {
	return c.dependencyFactory().CreateWithOverrides(c.deps)
}

// resolve loads the environment configuration and resolves it
func (c *CLI) resolve(ctx context.Context, deps interfaces.GeneratorDependencies, skipChecks bool) (types.BuildConfiguration, error) {
	envCfg, err := c.settings.loadEnvConfig(c.configs)
	if err != nil {
		return types.BuildConfiguration{}, err
	}

	resolver, err := env.NewResolver(
		utils.NewFileMatcher(c.fs),
		deps.Executor,
		env.WithLogger(c.logger),
		env.WithSkipExecutableChecks(skipChecks),
	)
	if err != nil {
		return types.BuildConfiguration{}, err
	}
	return resolver.Resolve(ctx, envCfg)
}

func (c *CLI) newGenerator(deps interfaces.GeneratorDependencies) (*engine.Generator, error) {
	return engine.NewGenerator(c.fs, c.logger, deps,
		engine.WithCleanup(c.settings.getBool("cleanup")),
		engine.WithJobs(c.settings.getInt("jobs")),
	)
}

func (c *CLI) buildRequest(cfg types.BuildConfiguration, app types.AppConfig) engine.Request {
	outDir := c.settings.getString("out-dir")
	if outDir == "" {
		outDir = "."
	}
	return engine.Request{
		Config:   cfg,
		App:      app,
		BuildDir: c.settings.getString("build-dir"),
		OutDir:   outDir,
	}
}

func (c *CLI) runBuild(ctx context.Context) error {
	deps := c.dependencies()

	app, err := c.settings.loadAppConfig(c.configs)
	if err != nil {
		return fmt.Errorf("failed to load app configuration: %w", err)
	}

	cfg, err := c.resolve(ctx, deps, false)
	if err != nil {
		return explain(err)
	}

	gen, err := c.newGenerator(deps)
	if err != nil {
		return err
	}

	c.printInfo(fmt.Sprintf("Building %s for %s", app.Name, cfg.Arch))
	res, err := gen.Generate(ctx, c.buildRequest(cfg, app))
	if err != nil {
		return explain(err)
	}

	c.printBuilt(res)
	return nil
}

func (c *CLI) printBuilt(res *engine.Result) {
	size := "?"
	if n, err := utils.NewFileSystemUtils(c.fs).GetFileSize(res.Apk); err == nil {
		size = utils.FormatBytes(n)
	}
	c.printSuccess(fmt.Sprintf("Built %s (%s, %.2fs)", res.Apk, size, res.Duration.Seconds()))
}

func (c *CLI) runLocate(ctx context.Context, write string) error {
	cfg, err := c.resolve(ctx, c.dependencies(), true)
	if err != nil {
		return explain(err)
	}

	fmt.Fprintln(c.output, renderLocateReport(cfg))

	if write != "" {
		if err := c.configs.WriteConfig(write, toEnvConfig(cfg)); err != nil {
			return err
		}
		c.printSuccess(fmt.Sprintf("Wrote %s", write))
	}
	return nil
}

func (c *CLI) runCheck(ctx context.Context) error {
	cfg, err := c.resolve(ctx, c.dependencies(), false)
	if err != nil {
		return explain(err)
	}

	mode := "shared"
	if cfg.Embedded {
		mode = "embedded"
	}
	c.printSuccess(fmt.Sprintf("Build environment is ready: API level %d, %s, %s mode", cfg.AndroidAPILevel, cfg.Arch, mode))
	return nil
}

func (c *CLI) runStatus(app string) error {
	sm := state.NewManager(c.fs, c.config.ProjectRoot, c.logger)

	states, err := sm.Discover()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}

	if app != "" {
		st, ok := states[app]
		if !ok {
			return fmt.Errorf("no build recorded for %s", app)
		}
		states = map[string]*state.AppState{app: st}
	}

	if len(states) == 0 {
		c.printWarning("No builds recorded. Run 'xwalk-apkgen build' first.")
		return nil
	}

	fmt.Fprintln(c.output, renderStatusReport(states))
	return nil
}

// explain adds a hint to errors a user can act on
func explain(err error) error {
	var incomplete *env.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		return fmt.Errorf("%w (set them with flags, an --env-config file or %s_ environment variables)", err, EnvPrefix)
	case errors.Is(err, engine.ErrBuildInProgress):
		return fmt.Errorf("%w; see 'xwalk-apkgen status'", err)
	}
	return err
}

// toEnvConfig converts a resolved configuration back into the file form
func toEnvConfig(cfg types.BuildConfiguration) types.EnvConfig {
	embedded := cfg.Embedded
	return types.EnvConfig{
		AndroidSDKDir:            cfg.AndroidSDKDir,
		XwalkAndroidDir:          cfg.XwalkAndroidDir,
		AndroidAPILevel:          cfg.AndroidAPILevel,
		Arch:                     string(cfg.Arch),
		Embedded:                 &embedded,
		Java:                     cfg.Java,
		Javac:                    cfg.Javac,
		Ant:                      cfg.Ant,
		Jarsigner:                cfg.Jarsigner,
		SourceJavaVersion:        cfg.SourceJavaVersion,
		TargetJavaVersion:        cfg.TargetJavaVersion,
		Aapt:                     cfg.Aapt,
		Dx:                       cfg.Dx,
		Zipalign:                 cfg.Zipalign,
		AnttasksJar:              cfg.AnttasksJar,
		AndroidJar:               cfg.AndroidJar,
		XwalkRuntimeClientJar:    cfg.XwalkRuntimeClientJar,
		XwalkApkPackageAntFile:   cfg.XwalkApkPackageAntFile,
		XwalkEmbeddedJar:         cfg.XwalkEmbeddedJar,
		XwalkAssets:              cfg.XwalkAssets,
		NativeLibs:               cfg.NativeLibs,
		XwalkCoreResources:       cfg.XwalkCoreResources,
		ChromiumUIResources:      cfg.ChromiumUIResources,
		ChromiumContentResources: cfg.ChromiumContentResources,
		Keystore:                 cfg.Keystore,
		KeystoreAlias:            cfg.KeystoreAlias,
		KeystorePassword:         cfg.KeystorePassword,
	}
}
