package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/sunrisecam/streamcore/pkg/nalu"
)

func newFlagSet(t *testing.T, args ...string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	err := fs.Parse(args)
	require.NoError(t, err)
	return fs
}

func TestDefaults(t *testing.T) {
	conf, err := Load(newFlagSet(t, "--stream-file", "video.h264"))
	require.NoError(t, err)

	require.Equal(t, &Config{
		Log:  Log{Level: "info"},
		Pool: Pool{Length: 8, SlotSize: 1024 * 1024},
		Stream: Stream{
			Name:         "main",
			Codec:        "h264",
			File:         "video.h264",
			Framerate:    30,
			Loop:         true,
			PollInterval: 100 * time.Millisecond,
		},
		RTSP: RTSP{Enable: true, Address: ":8554"},
		WebSocket: WebSocket{
			Enable:          true,
			Address:         ":8080",
			Path:            "/stream",
			ClientQueueSize: 64,
		},
		Analyzer: Analyzer{
			InputQueueLength:  2,
			OutputQueueLength: 3,
			RotationCount:     5,
		},
	}, conf)

	require.Equal(t, nalu.CodecH264, conf.Codec())
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "streamcore.yml")

	err := os.WriteFile(fpath, []byte(
		"pool:\n"+
			"  length: 4\n"+
			"stream:\n"+
			"  codec: h265\n"+
			"  file: /tmp/cam0.h265\n"+
			"  poll_interval: 250ms\n"+
			"rtsp:\n"+
			"  enable: false\n"+
			"analyzer:\n"+
			"  enable: true\n"+
			"  rotation_count: 6\n"), 0o644)
	require.NoError(t, err)

	t.Setenv("STREAMCORE_POOL_SLOT_SIZE", "4096")

	conf, err := Load(newFlagSet(t, "-c", fpath, "--framerate", "25"))
	require.NoError(t, err)

	require.Equal(t, 4, conf.Pool.Length)
	require.Equal(t, 4096, conf.Pool.SlotSize)
	require.Equal(t, nalu.CodecH265, conf.Codec())
	require.Equal(t, "/tmp/cam0.h265", conf.Stream.File)
	require.Equal(t, 250*time.Millisecond, conf.Stream.PollInterval)
	require.Equal(t, 25, conf.Stream.Framerate)
	require.Equal(t, false, conf.RTSP.Enable)
	require.Equal(t, true, conf.Analyzer.Enable)
	require.Equal(t, 6, conf.Analyzer.RotationCount)
}

func TestErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		args []string
		env  map[string]string
		err  string
	}{
		{
			"missing file",
			nil,
			nil,
			"invalid configuration: stream file is not set",
		},
		{
			"codec",
			[]string{"--stream-file", "a", "--codec", "vp8"},
			nil,
			"invalid configuration: unsupported codec: 'vp8'",
		},
		{
			"pool length",
			[]string{"--stream-file", "a"},
			map[string]string{"STREAMCORE_POOL_LENGTH": "0"},
			"invalid configuration: invalid pool length: 0",
		},
		{
			"no sinks",
			[]string{"--stream-file", "a"},
			map[string]string{"STREAMCORE_RTSP_ENABLE": "false", "STREAMCORE_WEBSOCKET_ENABLE": "false"},
			"invalid configuration: at least one of RTSP and WebSocket must be enabled",
		},
		{
			"analyzer without websocket",
			[]string{"--stream-file", "a", "--analyzer"},
			map[string]string{"STREAMCORE_WEBSOCKET_ENABLE": "false"},
			"invalid configuration: the analyzer requires the WebSocket sink",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			for k, v := range ca.env {
				t.Setenv(k, v)
			}

			_, err := Load(newFlagSet(t, ca.args...))
			require.EqualError(t, err, ca.err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(newFlagSet(t, "-c", filepath.Join(t.TempDir(), "streamcore.yml")))
	require.ErrorContains(t, err, "unable to read configuration file")
}
