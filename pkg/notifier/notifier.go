// Package notifier sends desktop notifications about build results
package notifier

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

// Title prefixes every notification
const Title = "xwalk-apkgen"

// maxMessageLength keeps tool output from flooding the notification
const maxMessageLength = 200

// Sender delivers one notification
type Sender interface {
	Notify(title, message string) error
	Beep() error
}

type beeepSender struct{}

func (beeepSender) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}

func (beeepSender) Beep() error {
	return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
}

// Config represents notification configuration
type Config struct {
	Enabled bool
	// BeepOnFailure plays the system beep when a build fails
	BeepOnFailure bool
}

// BuildNotifier handles build notifications
type BuildNotifier struct {
	enabled       bool
	beepOnFailure bool
	sender        Sender
	logger        logger.Logger
}

// Option configures a BuildNotifier
type Option func(*BuildNotifier)

// WithSender replaces the desktop notification backend
func WithSender(s Sender) Option {
	return func(n *BuildNotifier) { n.sender = s }
}

// New creates a new build notifier
func New(config Config, log logger.Logger, opts ...Option) *BuildNotifier {
	if log == nil {
		log = logger.Discard()
	}
	n := &BuildNotifier{
		enabled:       config.Enabled,
		beepOnFailure: config.BeepOnFailure,
		sender:        beeepSender{},
		logger:        log.WithComponent("notifier"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyBuildStart notifies that a build has started
func (n *BuildNotifier) NotifyBuildStart(app string) {
	if !n.enabled {
		return
	}
	n.send(Title, fmt.Sprintf("Building %s...", app))
}

// NotifyBuildSuccess notifies that a build produced apk
func (n *BuildNotifier) NotifyBuildSuccess(app, apk string, duration time.Duration) {
	if !n.enabled {
		return
	}
	n.send(Title+": build succeeded",
		fmt.Sprintf("%s built %s in %s", app, filepath.Base(apk), formatDuration(duration)))
}

// NotifyBuildFailure notifies that a build failed. Only the first line of
// the error is shown.
func (n *BuildNotifier) NotifyBuildFailure(app string, err error) {
	if !n.enabled {
		return
	}

	msg := "unknown error"
	if err != nil {
		msg = strings.SplitN(err.Error(), "\n", 2)[0]
	}
	n.send(Title+": build failed", truncate(fmt.Sprintf("%s: %s", app, msg), maxMessageLength))

	if n.beepOnFailure {
		if err := n.sender.Beep(); err != nil {
			n.logger.Debug("Failed to play sound", logger.WithField("error", err.Error()))
		}
	}
}

func (n *BuildNotifier) send(title, message string) {
	if err := n.sender.Notify(title, message); err != nil {
		// Headless machines have no notification daemon
		n.logger.Debug("Failed to send notification", logger.WithField("error", err.Error()))
		n.logger.Info(fmt.Sprintf("%s: %s", title, message))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
