// main executable.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sunrisecam/streamcore"
	"github.com/sunrisecam/streamcore/internal/analyzer"
	"github.com/sunrisecam/streamcore/internal/config"
	"github.com/sunrisecam/streamcore/internal/filesource"
	"github.com/sunrisecam/streamcore/pkg/memmodule"
	"github.com/sunrisecam/streamcore/pkg/slotqueue"
)

const shutdownTimeout = 5 * time.Second

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streamcored",
		Short: "Stream an Annex-B file over RTSP and WebSocket",
		Long: `streamcored reads H264 or H265 access units from an Annex-B file, passes them
through a pool of preallocated slots and serves their NAL units to RTSP readers
and WebSocket clients.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), conf)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func run(ctx context.Context, conf *config.Config) error {
	level, err := logrus.ParseLevel(conf.Log.Level)
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	codec := conf.Codec()

	mod := memmodule.Open(func() {
		logger.Debug("memory module closed")
	})
	defer mod.Release() //nolint:errcheck

	queue := &slotqueue.Queue[[]byte]{
		ProducerName: "file",
		ConsumerName: "streamer",
		Length:       conf.Pool.Length,
		Handler:      &memmodule.ByteItems{Module: mod, Size: conf.Pool.SlotSize},
		Logger:       logger,
	}
	err = queue.Initialize()
	if err != nil {
		return errors.Wrap(err, "unable to allocate slots")
	}
	defer queue.Close()

	var sinks []streamcore.Sink

	if conf.RTSP.Enable {
		rtspSink := &streamcore.RTSPSink{
			Address: conf.RTSP.Address,
			Codec:   codec,
			Logger:  logger,
		}
		err = rtspSink.Initialize()
		if err != nil {
			return errors.Wrap(err, "unable to start the RTSP server")
		}
		defer rtspSink.Close()

		sinks = append(sinks, rtspSink)
	}

	var wsSink *streamcore.WebSocketSink
	var httpServer *http.Server

	if conf.WebSocket.Enable {
		wsSink = &streamcore.WebSocketSink{
			StreamIndex:     conf.WebSocket.StreamIndex,
			ClientQueueSize: conf.WebSocket.ClientQueueSize,
			Logger:          logger,
		}
		wsSink.Initialize()
		defer wsSink.Close()

		sinks = append(sinks, wsSink)

		mux := http.NewServeMux()
		mux.Handle(conf.WebSocket.Path, wsSink)

		httpServer = &http.Server{
			Addr:              conf.WebSocket.Address,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	streamer := &streamcore.Streamer{
		Queue:        queue,
		Codec:        codec,
		Name:         conf.Stream.Name,
		Sinks:        sinks,
		PollInterval: conf.Stream.PollInterval,
		MaxNALUSize:  conf.Stream.MaxNALUSize,
		Logger:       logger,
	}
	err = streamer.Initialize()
	if err != nil {
		return err
	}
	streamer.Start()
	defer streamer.Close()

	var an *analyzer.Analyzer

	if conf.Analyzer.Enable {
		an = &analyzer.Analyzer{
			Codec:             codec,
			MaxAccessUnitSize: conf.Pool.SlotSize,
			InputQueueLength:  conf.Analyzer.InputQueueLength,
			OutputQueueLength: conf.Analyzer.OutputQueueLength,
			RotationCount:     conf.Analyzer.RotationCount,
			Logger:            logger,
			OnReport: func(r *analyzer.Report) error {
				return wsSink.BroadcastJSON(r)
			},
		}
		err = an.Initialize()
		if err != nil {
			return errors.Wrap(err, "unable to initialize the analyzer")
		}
		an.Start()
		defer an.Close()
	}

	source := &filesource.Source{
		Path:      conf.Stream.File,
		Queue:     queue,
		Codec:     codec,
		Framerate: float64(conf.Stream.Framerate),
		Loop:      conf.Stream.Loop,
		Logger:    logger,
		OnAccessUnit: func(fd slotqueue.FrameDescriptor, au []byte) {
			if an != nil {
				an.Submit(fd, au)
			}
		},
	}
	err = source.Initialize()
	if err != nil {
		return errors.Wrapf(err, "unable to open '%s'", conf.Stream.File)
	}
	source.Start()
	defer source.Close()

	g, gctx := errgroup.WithContext(ctx)

	if httpServer != nil {
		g.Go(func() error {
			logger.Infof("WebSocket server is ready on %s%s", conf.WebSocket.Address, conf.WebSocket.Path)

			err := httpServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "WebSocket server failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-source.Done():
			logger.Info("stream ended")
		}

		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			httpServer.Shutdown(shutdownCtx) //nolint:errcheck
		}
		return nil
	})

	err = g.Wait()

	logger.Info("shutting down")

	return err
}

func main() {
	err := newRootCommand().Execute()
	if err != nil {
		os.Exit(1)
	}
}
