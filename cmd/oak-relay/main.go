// Command oak-relay runs the camera relay pipeline: it captures frames from
// a V4L2 device (or a synthetic test source), fans them out to the
// configured sinks, and reacts to operator commands from stdin or the HTTP
// control surface.
//
// Keys (stdin, one per line): q quit, s snapshot, r toggle recording.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/23retsuf/oak-drone-system/capture"
	"github.com/23retsuf/oak-drone-system/command"
	"github.com/23retsuf/oak-drone-system/internal/config"
	"github.com/23retsuf/oak-drone-system/internal/control"
	"github.com/23retsuf/oak-drone-system/internal/logger"
	"github.com/23retsuf/oak-drone-system/internal/metrics"
	"github.com/23retsuf/oak-drone-system/relay"
	"github.com/23retsuf/oak-drone-system/sink"
)

const httpShutdownTimeout = 5 * time.Second

func main() {
	_ = config.Load()

	var (
		device      = flag.String("device", config.GetEnv("CAMERA_DEVICE", "test"), "V4L2 device path, or \"test\" for a synthetic source")
		resolution  = flag.String("resolution", config.GetEnv("CAMERA_RESOLUTION", "720p"), "capture resolution: 480p, 720p, 1080p")
		fps         = flag.Float64("fps", config.GetEnvFloat("CAMERA_FPS", 30), "target frames per second (0.1-60)")
		mode        = flag.String("mode", config.GetEnv("CAMERA_MODE", "raw"), "capture mode: raw or h264")
		bitrateKbps = flag.Int("bitrate-kbps", config.GetEnvInt("ENCODER_BITRATE_KBPS", 4000), "H.264 encoder bitrate")
		host        = flag.String("host", config.GetEnv("RTP_HOST", ""), "RTP destination host (h264 mode; empty disables)")
		port        = flag.Int("port", config.GetEnvInt("RTP_PORT", 5600), "RTP destination port")
		payloadType = flag.Int("payload-type", config.GetEnvInt("RTP_PAYLOAD_TYPE", 96), "RTP payload type")
		display     = flag.Bool("display", false, "open a local video window (raw mode only)")
		snapshotDir = flag.String("snapshot-dir", config.GetEnv("SNAPSHOT_DIR", "./snapshots"), "directory for snapshots")
		recordDir   = flag.String("record-dir", config.GetEnv("RECORD_DIR", "./recordings"), "directory for recordings")
		httpAddr    = flag.String("http", config.GetEnv("CONTROL_ADDR", ""), "control/metrics listen address (empty disables)")
		sinksPath   = flag.String("sinks", config.GetEnv("SINK_MANIFEST", ""), "optional sink manifest (YAML)")
		logLevel    = flag.String("log-level", config.GetEnv("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
		logFormat   = flag.String("log-format", config.GetEnv("LOG_FORMAT", "text"), "log format: text or json")
	)
	flag.Parse()

	log := logger.New(*logLevel, *logFormat)

	res, ok := capture.ParseResolution(*resolution)
	if !ok {
		log.Error("main: unknown resolution", "resolution", *resolution)
		os.Exit(1)
	}
	var captureMode capture.Mode
	switch *mode {
	case "raw":
		captureMode = capture.ModeRaw
	case "h264":
		captureMode = capture.ModeH264
	default:
		log.Error("main: unknown mode (use raw or h264)", "mode", *mode)
		os.Exit(1)
	}
	if *display && captureMode != capture.ModeRaw {
		log.Error("main: display requires raw mode")
		os.Exit(1)
	}
	if *host != "" && captureMode != capture.ModeH264 {
		log.Error("main: RTP forwarding requires h264 mode")
		os.Exit(1)
	}

	cam, err := capture.New(capture.Config{
		Device:      *device,
		Resolution:  res,
		TargetFPS:   *fps,
		Mode:        captureMode,
		BitrateKbps: *bitrateKbps,
	})
	if err != nil {
		log.Error("main: invalid capture configuration", "error", err)
		os.Exit(1)
	}

	session := relay.New(cam, relay.WithLogger(log))
	if err := session.Start(context.Background()); err != nil {
		log.Error("main: failed to start relay", "error", err)
		os.Exit(1)
	}
	defer session.Stop()

	if err := registerSinks(session, sinkOptions{
		mode:        captureMode,
		resolution:  res,
		fps:         *fps,
		display:     *display,
		host:        *host,
		port:        *port,
		payloadType: *payloadType,
		manifest:    *sinksPath,
		recordDir:   *recordDir,
	}, log); err != nil {
		log.Error("main: failed to register sinks", "error", err)
		os.Exit(1)
	}

	handler, err := command.NewHandler(session, *snapshotDir, *recordDir, log)
	if err != nil {
		log.Error("main: failed to attach command handler", "error", err)
		os.Exit(1)
	}
	defer handler.Close()

	// Sink failures are isolated: log and keep relaying.
	go func() {
		for f := range session.Failures() {
			log.Warn("main: sink failed and was removed", "sink", f.SinkID, "error", f.Err)
		}
	}()

	var httpSrv *http.Server
	if *httpAddr != "" {
		httpSrv = startControl(*httpAddr, session, cam, handler, log)
	}

	log.Info("main: pipeline running",
		"device", *device,
		"resolution", res.String(),
		"fps", *fps,
		"mode", captureMode.String(),
	)

	commands := command.Listen(os.Stdin, log)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

loop:
	for {
		select {
		case c, ok := <-commands:
			if !ok {
				// stdin closed (e.g. running detached): keep serving
				// signals and HTTP.
				commands = nil
				continue
			}
			if handler.Handle(c) {
				break loop
			}
		case sig := <-sigCh:
			log.Info("main: signal received, shutting down", "signal", sig.String())
			break loop
		case <-session.Done():
			log.Error("main: relay stopped on its own", "error", session.Err())
			break loop
		}
	}

	handler.Close()
	if err := session.Stop(); err != nil {
		log.Error("main: relay shutdown error", "error", err)
	}
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.Error("main: control server shutdown error", "error", err)
		}
	}
	log.Info("main: pipeline stopped")
}

type sinkOptions struct {
	mode        capture.Mode
	resolution  capture.Resolution
	fps         float64
	display     bool
	host        string
	port        int
	payloadType int
	manifest    string
	recordDir   string
}

// registerSinks attaches the sinks implied by flags, then those from the
// optional manifest.
func registerSinks(session relay.Session, opts sinkOptions, log *slog.Logger) error {
	if opts.display {
		w, h := opts.resolution.Dimensions()
		d, err := sink.NewDisplaySink(w, h, opts.fps, log)
		if err != nil {
			// A headless box is still a working relay; keep going
			// without the window.
			log.Warn("main: display unavailable, continuing without it", "error", err)
		} else {
			// The window shows the newest frame; stale frames are worthless.
			err = session.RegisterSink("display", d, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 1})
			if err != nil {
				d.Close()
				return err
			}
		}
	}

	if opts.host != "" {
		p, err := sink.NewPipeSink(sink.PipeConfig{
			Host:        opts.host,
			Port:        opts.port,
			PayloadType: opts.payloadType,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		// Encoded chunks must arrive complete and in order.
		err = session.RegisterSink("rtp", p, relay.SinkPolicy{Policy: relay.Blocking, Depth: 30})
		if err != nil {
			p.Close()
			return err
		}
	}

	if opts.manifest == "" {
		return nil
	}
	m, err := config.LoadManifest(opts.manifest)
	if err != nil {
		return err
	}
	for _, spec := range m.Sinks {
		s, err := buildManifestSink(spec, opts, log)
		if err != nil {
			return err
		}
		policy := relay.SinkPolicy{Policy: parsePolicy(spec.Policy), Depth: spec.Depth}
		if err := session.RegisterSink(spec.ID, s, policy); err != nil {
			s.Close()
			return fmt.Errorf("main: register sink %q: %w", spec.ID, err)
		}
		log.Info("main: manifest sink registered", "sink", spec.ID, "type", spec.Type, "policy", spec.Policy)
	}
	return nil
}

func buildManifestSink(spec config.SinkSpec, opts sinkOptions, log *slog.Logger) (relay.Sink, error) {
	switch spec.Type {
	case "file":
		dir := spec.Target
		if dir == "" {
			dir = opts.recordDir
		}
		return sink.NewFileSink(sink.FileConfig{Dir: dir, Prefix: spec.ID, Logger: log})
	case "display":
		w, h := opts.resolution.Dimensions()
		return sink.NewDisplaySink(w, h, opts.fps, log)
	case "pipe":
		cfg := sink.PipeConfig{Logger: log}
		if spec.Target != "" {
			cfg.Command = strings.Fields(spec.Target)
		} else {
			cfg.Host = opts.host
			cfg.Port = opts.port
			cfg.PayloadType = opts.payloadType
		}
		return sink.NewPipeSink(cfg)
	default:
		return nil, fmt.Errorf("main: unknown sink type %q", spec.Type)
	}
}

func parsePolicy(s string) relay.Policy {
	switch s {
	case "drop-oldest":
		return relay.DropOldest
	case "drop-newest":
		return relay.DropNewest
	default:
		return relay.Blocking
	}
}

// startControl brings up the HTTP control surface with health, status,
// metrics, and the remote snapshot/recording endpoints.
func startControl(addr string, session relay.Session, cam *capture.CameraStream, handler *command.Handler, log *slog.Logger) *http.Server {
	met := metrics.New(session.Stats, func() metrics.CaptureSnapshot {
		st := cam.Stats()
		return metrics.CaptureSnapshot{
			Frames:  st.FrameCount,
			Dropped: st.FramesDropped,
			Bytes:   st.BytesRead,
		}
	})
	ctl := &control.Server{
		SessionStats:    session.Stats,
		CaptureStats:    cam.Stats,
		Snapshot:        handler.TakeSnapshot,
		ToggleRecording: handler.Toggle,
		Metrics:         met.Handler(),
		Log:             log,
	}

	srv := &http.Server{Addr: addr, Handler: ctl.Router()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("main: control server error", "error", err)
		}
	}()
	log.Info("main: control server listening", "addr", addr)
	return srv
}
