// Package config contains the configuration of the daemon.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sunrisecam/streamcore/pkg/nalu"
)

// EnvPrefix is the prefix of environment variables that override the configuration.
const EnvPrefix = "STREAMCORE"

// Log is the logging configuration.
type Log struct {
	Level string `mapstructure:"level"`
}

// Pool is the configuration of the slot pool shared by the encoder and the streamer.
type Pool struct {
	Length   int `mapstructure:"length"`
	SlotSize int `mapstructure:"slot_size"`
}

// Stream is the configuration of the encoded stream.
type Stream struct {
	Name         string        `mapstructure:"name"`
	Codec        string        `mapstructure:"codec"`
	File         string        `mapstructure:"file"`
	Framerate    int           `mapstructure:"framerate"`
	Loop         bool          `mapstructure:"loop"`
	MaxNALUSize  int           `mapstructure:"max_nalu_size"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RTSP is the configuration of the RTSP sink.
type RTSP struct {
	Enable  bool   `mapstructure:"enable"`
	Address string `mapstructure:"address"`
}

// WebSocket is the configuration of the WebSocket sink.
type WebSocket struct {
	Enable          bool   `mapstructure:"enable"`
	Address         string `mapstructure:"address"`
	Path            string `mapstructure:"path"`
	StreamIndex     uint32 `mapstructure:"stream_index"`
	ClientQueueSize int    `mapstructure:"client_queue_size"`
}

// Analyzer is the configuration of the analysis pipeline.
type Analyzer struct {
	Enable            bool `mapstructure:"enable"`
	InputQueueLength  int  `mapstructure:"input_queue_length"`
	OutputQueueLength int  `mapstructure:"output_queue_length"`
	RotationCount     int  `mapstructure:"rotation_count"`
}

// Config is the configuration of the daemon.
type Config struct {
	Log       Log       `mapstructure:"log"`
	Pool      Pool      `mapstructure:"pool"`
	Stream    Stream    `mapstructure:"stream"`
	RTSP      RTSP      `mapstructure:"rtsp"`
	WebSocket WebSocket `mapstructure:"websocket"`
	Analyzer  Analyzer  `mapstructure:"analyzer"`
}

// Codec returns the codec of the stream.
func (c *Config) Codec() nalu.Codec {
	switch strings.ToLower(c.Stream.Codec) {
	case "h264":
		return nalu.CodecH264
	case "h265", "hevc":
		return nalu.CodecH265
	}
	return 0
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Codec() == 0 {
		return errors.Errorf("unsupported codec: '%s'", c.Stream.Codec)
	}
	if c.Stream.File == "" {
		return errors.New("stream file is not set")
	}
	if c.Pool.Length <= 0 {
		return errors.Errorf("invalid pool length: %d", c.Pool.Length)
	}
	if c.Pool.SlotSize <= 0 {
		return errors.Errorf("invalid slot size: %d", c.Pool.SlotSize)
	}
	if c.Stream.Framerate <= 0 {
		return errors.Errorf("invalid framerate: %d", c.Stream.Framerate)
	}
	if !c.RTSP.Enable && !c.WebSocket.Enable {
		return errors.New("at least one of RTSP and WebSocket must be enabled")
	}
	if c.Analyzer.Enable && !c.WebSocket.Enable {
		return errors.New("the analyzer requires the WebSocket sink")
	}
	return nil
}

var flagKeys = map[string]string{
	"log-level":    "log.level",
	"stream-file":  "stream.file",
	"codec":        "stream.codec",
	"framerate":    "stream.framerate",
	"loop":         "stream.loop",
	"rtsp-address": "rtsp.address",
	"ws-address":   "websocket.address",
	"analyzer":     "analyzer.enable",
}

// RegisterFlags adds the command line flags that override the configuration.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path of the configuration file")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("stream-file", "", "path of an Annex-B file to stream")
	fs.String("codec", "", "codec of the stream (h264, h265)")
	fs.Int("framerate", 0, "frames per second")
	fs.Bool("loop", false, "restart the file when it ends")
	fs.String("rtsp-address", "", "address of the RTSP listener")
	fs.String("ws-address", "", "address of the WebSocket listener")
	fs.Bool("analyzer", false, "enable the analysis pipeline")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("pool.length", 8)
	v.SetDefault("pool.slot_size", 1024*1024)

	v.SetDefault("stream.name", "main")
	v.SetDefault("stream.codec", "h264")
	v.SetDefault("stream.framerate", 30)
	v.SetDefault("stream.loop", true)
	v.SetDefault("stream.max_nalu_size", 0)
	v.SetDefault("stream.poll_interval", 100*time.Millisecond)

	v.SetDefault("rtsp.enable", true)
	v.SetDefault("rtsp.address", ":8554")

	v.SetDefault("websocket.enable", true)
	v.SetDefault("websocket.address", ":8080")
	v.SetDefault("websocket.path", "/stream")
	v.SetDefault("websocket.stream_index", 0)
	v.SetDefault("websocket.client_queue_size", 64)

	v.SetDefault("analyzer.enable", false)
	v.SetDefault("analyzer.input_queue_length", 2)
	v.SetDefault("analyzer.output_queue_length", 3)
	v.SetDefault("analyzer.rotation_count", 5)
}

// Load reads the configuration.
// Values are taken, in order of priority, from command line flags,
// environment variables, the configuration file and defaults.
// fs can be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}

			err := v.BindPFlag(key, f)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to bind flag '%s'", name)
			}
		}

		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())

			err := v.ReadInConfig()
			if err != nil {
				return nil, errors.Wrap(err, "unable to read configuration file")
			}
		}
	}

	var conf Config
	err := v.Unmarshal(&conf)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode configuration")
	}

	err = conf.Validate()
	if err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &conf, nil
}
