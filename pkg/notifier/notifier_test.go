package notifier_test

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/notifier"
)

type notification struct {
	title   string
	message string
}

type recordingSender struct {
	mu        sync.Mutex
	sent      []notification
	beeps     int
	notifyErr error
}

func (r *recordingSender) Notify(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{title, message})
	return r.notifyErr
}

func (r *recordingSender) Beep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beeps++
	return nil
}

func newNotifier(config notifier.Config) (*notifier.BuildNotifier, *recordingSender) {
	sender := &recordingSender{}
	return notifier.New(config, logger.Discard(), notifier.WithSender(sender)), sender
}

func TestNotifier_BuildSuccess(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: true})

	n.NotifyBuildSuccess("Test_App", "/out/Test_App.x86.apk", 5*time.Second)

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.title != "xwalk-apkgen: build succeeded" {
		t.Errorf("unexpected title: %s", got.title)
	}
	if got.message != "Test_App built Test_App.x86.apk in 5.0s" {
		t.Errorf("unexpected message: %s", got.message)
	}
}

func TestNotifier_BuildFailure(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: true, BeepOnFailure: true})

	n.NotifyBuildFailure("Test_App", errors.New("dex stage failed: command failed: dx\nexit code: 2"))

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sender.sent))
	}
	if sender.sent[0].message != "Test_App: dex stage failed: command failed: dx" {
		t.Errorf("expected only the first error line, got: %s", sender.sent[0].message)
	}
	if sender.beeps != 1 {
		t.Errorf("expected a beep on failure, got %d", sender.beeps)
	}
}

func TestNotifier_BuildStart(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: true})

	n.NotifyBuildStart("Test_App")

	if len(sender.sent) != 1 || sender.sent[0].message != "Building Test_App..." {
		t.Errorf("unexpected notifications: %+v", sender.sent)
	}
}

func TestNotifier_Disabled(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: false, BeepOnFailure: true})

	n.NotifyBuildSuccess("Test", "/out/Test.x86.apk", time.Second)
	n.NotifyBuildFailure("Test", fmt.Errorf("test error"))
	n.NotifyBuildStart("Test")

	if len(sender.sent) != 0 || sender.beeps != 0 {
		t.Errorf("expected nothing to be sent, got %+v and %d beeps", sender.sent, sender.beeps)
	}
}

func TestNotifier_ErrorFormats(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: true})

	errs := []error{
		fmt.Errorf("simple error"),
		fmt.Errorf("multi-line\nerror\nmessage"),
		fmt.Errorf("error with special chars: %s %d %%", "test", 42),
		errors.New(strings.Repeat("x", 500)),
		nil,
	}

	for _, err := range errs {
		n.NotifyBuildFailure("test", err)
	}

	if len(sender.sent) != len(errs) {
		t.Fatalf("expected %d notifications, got %d", len(errs), len(sender.sent))
	}
	if sender.sent[1].message != "test: multi-line" {
		t.Errorf("unexpected multi-line message: %s", sender.sent[1].message)
	}
	if len(sender.sent[3].message) > 200 || !strings.HasSuffix(sender.sent[3].message, "...") {
		t.Errorf("expected long message to be truncated, got %d chars", len(sender.sent[3].message))
	}
	if sender.sent[4].message != "test: unknown error" {
		t.Errorf("unexpected nil error message: %s", sender.sent[4].message)
	}
}

func TestNotifier_SendFailureFallsBackToLog(t *testing.T) {
	var out strings.Builder
	sender := &recordingSender{notifyErr: errors.New("no dbus")}
	n := notifier.New(notifier.Config{Enabled: true}, logger.CreateLoggerWithOutput("info", &out), notifier.WithSender(sender))

	n.NotifyBuildStart("Test_App")

	if !strings.Contains(out.String(), "Building Test_App...") {
		t.Errorf("expected notification text in the log, got: %s", out.String())
	}
}

func TestNotifier_ConcurrentNotifications(t *testing.T) {
	n, sender := newNotifier(notifier.Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			n.NotifyBuildSuccess(fmt.Sprintf("App-%d", idx), "/out/app.apk", time.Second)
		}(i)
	}
	wg.Wait()

	if len(sender.sent) != 5 {
		t.Errorf("expected 5 notifications, got %d", len(sender.sent))
	}
}

func BenchmarkNotifier_Disabled(b *testing.B) {
	n := notifier.New(notifier.Config{Enabled: false}, logger.Discard())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		n.NotifyBuildFailure("Benchmark", fmt.Errorf("test error"))
	}
}
