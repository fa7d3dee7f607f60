package main

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oneshot-rpc/config"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	return out.String(), err
}

func TestConfigCommand(t *testing.T) {
	isolate(t)
	t.Setenv("MINIRPC_RESPONSE_TIMEOUT", "2s")

	out, err := execute(t, "config", "--port", "9999", "--codec", "proto")
	require.NoError(t, err)
	assert.Contains(t, out, "port = 9999")
	assert.Contains(t, out, `codec = "proto"`)
	assert.Contains(t, out, `response_timeout = "2s"`)
}

func TestConfigCommandRejectsInvalid(t *testing.T) {
	isolate(t)
	_, err := execute(t, "config", "--codec", "xml")
	assert.Error(t, err)
}

func TestServeAndCall(t *testing.T) {
	isolate(t)
	port := freePort(t)

	cfg := &config.Config{
		ListenHost:    "127.0.0.1",
		Port:          port,
		Codec:         "binary",
		MaxFrameBytes: 1 << 20,
		RateLimit:     100,
		RateBurst:     10,
	}
	d, err := newDispatcher("echo")
	require.NoError(t, err)
	svr, err := newServer(cfg, d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, svr, time.Second) }()
	require.Eventually(t, func() bool { return svr.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	out, err := execute(t, "call", "--host", "127.0.0.1", "--port", strconv.Itoa(port),
		"--interface", "greeter", "--method", "hi", "--count", "6", "--parallel", "3")
	require.NoError(t, err)
	assert.Equal(t, "Response{message=greeter.hi}", strings.TrimSpace(out))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestCallFlagValidation(t *testing.T) {
	isolate(t)
	_, err := execute(t, "call", "--count", "0")
	assert.Error(t, err)

	_, err = execute(t, "call", "--parallel", "0")
	assert.Error(t, err)
}

func TestUnknownDispatcher(t *testing.T) {
	_, err := newDispatcher("nope")
	assert.Error(t, err)
}

func TestGetConfigWithoutPreRun(t *testing.T) {
	cmd := newConfigCmd()
	cmd.SetContext(context.Background())

	_, err := getConfig(cmd)
	assert.ErrorIs(t, err, errConfigNotLoaded)
	assert.ErrorIs(t, cmd.RunE(cmd, nil), errConfigNotLoaded)
}
