package lib

import (
	"bytes"
	"context"
	"runtime"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(trace.BadParameter("bad")))
	require.Equal(t, 130, ExitCode(trace.Wrap(context.Canceled)))
	require.True(t, IsDeadline(trace.Wrap(context.DeadlineExceeded)))
	require.False(t, IsCanceled(trace.Wrap(context.DeadlineExceeded)))
}

func TestIsEmail(t *testing.T) {
	require.True(t, IsEmail("ada@example.com"))
	require.False(t, IsEmail("Ada <ada@example.com>"))
	require.False(t, IsEmail("ada"))
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	PrintVersion(&buf, "magic-tracker", "1.2.3", "abc123")
	require.Equal(t, "magic-tracker v1.2.3 git:abc123 "+runtime.Version()+"\n", buf.String())

	buf.Reset()
	PrintVersion(&buf, "magic-tracker", "1.2.3", "")
	require.Equal(t, "magic-tracker v1.2.3 "+runtime.Version()+"\n", buf.String())
}
