package gotest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_BuildArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{name: "no args", want: []string{"test", "-json"}},
		{name: "packages", args: []string{"./...", "-run", "TestFoo"}, want: []string{"test", "-json", "./...", "-run", "TestFoo"}},
		{name: "duplicate json flag", args: []string{"-json", "-count=1", "./pkg"}, want: []string{"test", "-json", "-count=1", "./pkg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Command{Args: tt.args}
			assert.Equal(t, tt.want, c.BuildArgs())
		})
	}
}

// fakeGo writes a shell script that stands in for the go binary
func fakeGo(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	bin := filepath.Join(t.TempDir(), "go")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755))
	return bin
}

func TestCommand_Run(t *testing.T) {
	bin := fakeGo(t, `echo '{"Action":"run","Package":"example/pkg","Test":"TestFoo"}'
echo "warning: something" >&2
echo "$@"
exit 1
`)

	c := &Command{
		GoBinary: bin,
		WorkDir:  t.TempDir(),
		Args:     []string{"./..."},
		Log:      log.NewLogger(log.DiscardHandler()),
	}

	var stdout string
	code, err := c.Run(context.Background(), func(r io.Reader) error {
		b, err := io.ReadAll(r)
		stdout = string(b)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(stdout, `{"Action":"run"`))
	assert.Contains(t, stdout, "test -json ./...")
}

func TestCommand_RunMissingBinary(t *testing.T) {
	c := &Command{
		GoBinary: filepath.Join(t.TempDir(), "does-not-exist"),
		Log:      log.NewLogger(log.DiscardHandler()),
	}
	_, err := c.Run(context.Background(), func(io.Reader) error { return nil })
	assert.Error(t, err)
}

func TestCommand_RunFeedsDriver(t *testing.T) {
	bin := fakeGo(t, `echo '{"Action":"run","Package":"example/pkg","Test":"TestFoo"}'
echo '{"Action":"pass","Package":"example/pkg","Test":"TestFoo"}'
echo '{"Action":"pass","Package":"example/pkg"}'
`)
	d, events := newTestDriver(t, nil)
	c := &Command{GoBinary: bin, Log: log.NewLogger(log.DiscardHandler())}

	code, err := c.Run(context.Background(), func(r io.Reader) error {
		return d.Consume(context.Background(), r)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, *events, 2)
	assert.Equal(t, 1, d.Stats().Passed)
}

func TestCommand_RunDrainsOversizedStderr(t *testing.T) {
	bin := fakeGo(t, `head -c 2097152 /dev/zero | tr '\0' x >&2
echo >&2
head -c 300000 /dev/zero | tr '\0' y >&2
echo "after the long lines" >&2
echo '{"Action":"pass","Package":"example/pkg","Test":"TestFoo"}'
`)
	c := &Command{GoBinary: bin, Log: log.NewLogger(log.DiscardHandler())}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var stdout string
	code, err := c.Run(ctx, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		stdout = string(b)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, `"Test":"TestFoo"`)
}
