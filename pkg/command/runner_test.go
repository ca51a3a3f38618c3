package command_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/command"
	"github.com/crosswalk-project/DEPRECATED-crosswalk-apk-generator-sub000/pkg/logger"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestRunner_Success(t *testing.T) {
	skipOnWindows(t)
	r := command.NewRunner(logger.Discard())

	res, err := r.Run(context.Background(), `sh -c 'echo out; echo err 1>&2'`)
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, "out\nerr\n", res.Output())
}

func TestRunner_NonZeroExit(t *testing.T) {
	skipOnWindows(t)
	r := command.NewRunner(logger.Discard())

	_, err := r.Run(context.Background(), `sh -c 'echo broken 1>&2; exit 3'`)
	require.Error(t, err)

	var cmdErr *command.Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "broken\n", cmdErr.Stderr)
	assert.Contains(t, err.Error(), "exit code: 3")
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "sh -c")
}

func TestRunner_MissingBinary(t *testing.T) {
	r := command.NewRunner(logger.Discard())

	_, err := r.Run(context.Background(), "definitely-not-a-real-binary-xyz --version")
	var cmdErr *command.Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, -1, cmdErr.ExitCode)
}

func TestRunner_EmptyCommand(t *testing.T) {
	r := command.NewRunner(logger.Discard())

	_, err := r.Run(context.Background(), "   ")
	assert.True(t, errors.Is(err, command.ErrEmptyCommand))
}

func TestRunner_UnbalancedQuotes(t *testing.T) {
	r := command.NewRunner(logger.Discard())

	_, err := r.Run(context.Background(), `aapt "package`)
	var cmdErr *command.Error
	require.True(t, errors.As(err, &cmdErr))
	assert.Contains(t, err.Error(), "parse command line")
}

func TestRunner_Timeout(t *testing.T) {
	skipOnWindows(t)
	r := command.NewRunner(logger.Discard(), command.WithTimeout(50*time.Millisecond))

	_, err := r.Run(context.Background(), "sleep 5")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRunner_LogWriterAndArgs(t *testing.T) {
	skipOnWindows(t)
	var buf bytes.Buffer
	r := command.NewRunner(logger.Discard(), command.WithLogWriter(&buf))

	res, err := r.RunArgs(context.Background(), "echo", "hello world", "it's")
	require.NoError(t, err)
	assert.Equal(t, "hello world it's\n", res.Stdout)

	logged := buf.String()
	assert.True(t, strings.HasPrefix(logged, "$ echo "))
	assert.Contains(t, logged, "=== OK after")
}

func TestRunner_Env(t *testing.T) {
	skipOnWindows(t)
	r := command.NewRunner(logger.Discard(), command.WithEnv(map[string]string{"XWALK_TEST_VALUE": "42"}))

	res, err := r.Run(context.Background(), `sh -c 'echo $XWALK_TEST_VALUE'`)
	require.NoError(t, err)
	assert.Equal(t, "42\n", res.Stdout)
}

func TestRunner_Dir(t *testing.T) {
	skipOnWindows(t)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	r := command.NewRunner(logger.Discard(), command.WithDir(dir))

	res, err := r.Run(context.Background(), "pwd -P")
	require.NoError(t, err)
	assert.Equal(t, dir, strings.TrimSpace(res.Stdout))
}

func TestJoin_RoundTripsThroughRun(t *testing.T) {
	line := command.Join("javac", "-classpath", "/opt/a b.jar:/opt/c.jar", "src/My App.java")
	assert.Equal(t, `javac -classpath '/opt/a b.jar:/opt/c.jar' 'src/My App.java'`, line)
}
