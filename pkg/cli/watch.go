package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/engine"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/internal/watch"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/config"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/interfaces"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/types"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/utils"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the apk whenever the app changes",
		Long: `Build the apk, then watch the app root and rebuild after every settled
batch of changes. Changes to the --env-config or --app-config files reload
the configuration before the next build.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runWatch(cmd.Context(), settle)
		},
	}
	addAppFlags(cmd)
	cmd.Flags().DurationVar(&settle, "settle", watch.DefaultSettlingDelay, "quiet period before a rebuild")
	return cmd
}

// watchSession holds what a rebuild needs; it is replaced when the
// configuration files change
type watchSession struct {
	cfg types.BuildConfiguration
	app types.AppConfig
}

func (c *CLI) runWatch(ctx context.Context, settle time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := c.dependencies()
	gen, err := c.newGenerator(deps)
	if err != nil {
		return err
	}

	session, err := c.loadSession(ctx, deps)
	if err != nil {
		return err
	}
	if session.app.AppRoot == "" {
		return fmt.Errorf("watch needs an app root to watch")
	}

	rebuild := make(chan struct{}, 1)
	reconfigure := make(chan struct{}, 1)
	signalOnce := func(ch chan struct{}) {
		select {
		case ch <- struct{}{}:
		default:
		}
	}

	// Apks written into the app root must not trigger another build
	exclusions, err := utils.NewExclusionMatcher(append(utils.GetDefaultExclusions(), "*.apk"))
	if err != nil {
		return err
	}
	watcher, err := watch.New(c.logger, watch.WithSettlingDelay(settle), watch.WithExclusions(exclusions))
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Watch(ctx, session.app.AppRoot, func(files []interfaces.FileChange) {
		c.logger.Info(fmt.Sprintf("%d file(s) changed", len(files)), logger.WithField("first", files[0].Name))
		signalOnce(rebuild)
	}); err != nil {
		return err
	}

	envPath, appPath := c.settings.getString("env-config"), c.settings.getString("app-config")
	if envPath != "" || appPath != "" {
		reloader := config.NewReloadManager(c.configs, envPath, appPath, c.logger)
		reloader.SetDebouncePeriod(settle)
		reloader.AddCallback(func(_ *config.Files, err error) {
			if err != nil {
				c.printWarning(fmt.Sprintf("Configuration not reloaded: %v", err))
				return
			}
			signalOnce(reconfigure)
		})
		if err := reloader.StartWatching(); err != nil {
			c.printWarning(fmt.Sprintf("Not watching configuration files: %v", err))
		} else {
			defer reloader.StopWatching()
		}
	}

	c.printInfo(fmt.Sprintf("Watching %s", session.app.AppRoot))
	c.watchBuild(ctx, gen, session)

	for {
		select {
		case <-ctx.Done():
			c.printSuccess("Stopped watching")
			return nil

		case <-reconfigure:
			next, err := c.loadSession(ctx, deps)
			if err != nil {
				c.printError(fmt.Sprintf("Keeping previous configuration: %v", explain(err)))
				continue
			}
			if next.app.AppRoot != session.app.AppRoot {
				c.printWarning("App root changed; restart watch to follow it")
				next.app.AppRoot = session.app.AppRoot
			}
			session = next
			c.printInfo("Configuration reloaded")
			c.watchBuild(ctx, gen, session)

		case <-rebuild:
			c.watchBuild(ctx, gen, session)
		}
	}
}

// loadSession loads the app and resolves the environment
func (c *CLI) loadSession(ctx context.Context, deps interfaces.GeneratorDependencies) (watchSession, error) {
	app, err := c.settings.loadAppConfig(c.configs)
	if err != nil {
		return watchSession{}, fmt.Errorf("failed to load app configuration: %w", err)
	}

	cfg, err := c.resolve(ctx, deps, false)
	if err != nil {
		return watchSession{}, explain(err)
	}
	return watchSession{cfg: cfg, app: app}, nil
}

// watchBuild builds once; failures are reported and watching goes on
func (c *CLI) watchBuild(ctx context.Context, gen *engine.Generator, s watchSession) {
	res, err := gen.Generate(ctx, c.buildRequest(s.cfg, s.app))
	switch {
	case err == nil:
		c.printBuilt(res)
	case errors.Is(err, context.Canceled):
	default:
		c.printError(fmt.Sprintf("Build failed: %v", explain(err)))
	}
}
