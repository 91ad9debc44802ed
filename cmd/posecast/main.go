package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"posecast-go/internal/broadcast"
	"posecast-go/internal/config"
	"posecast-go/internal/device"
	"posecast-go/internal/estimator"
	"posecast-go/internal/ingest"
	"posecast-go/internal/output"
	"posecast-go/internal/pipeline"
	"posecast-go/internal/registry"
	"posecast-go/internal/server"
	"posecast-go/internal/simulator"
	"posecast-go/internal/types"
)

func main() {
	var (
		listen         = flag.String("listen", config.DefaultListenAddr, "TCP address pose subscribers connect to")
		port           = flag.Int("port", config.DefaultHTTPPort, "HTTP port for status and websocket subscribers (0 disables)")
		endpoint       = flag.String("endpoint", config.DefaultEndpoint, "ZMQ endpoint of the sensor bridge")
		devices        = flag.String("devices", "", "Comma-separated device ids in enumeration order")
		maxMissed      = flag.Uint("max-missed-frames", config.DefaultMaxMissedFrames, "Frames a subject may be absent before its tracker is dropped")
		writeTimeout   = flag.Duration("write-timeout", config.DefaultWriteTimeout, "Per-subscriber write deadline")
		debug          = flag.Bool("debug", false, "Run with simulated sensors")
		debugRate      = flag.Float64("debug-rate", config.DefaultDebugRate, "Simulated frame rate (frames/sec)")
		debugDevices   = flag.Int("debug-devices", 1, "Number of simulated sensors")
		rawLogEnabled  = flag.Bool("raw-log", false, "Write raw CBOR messages to disk")
		rawLogDir      = flag.String("raw-log-dir", "rawlog", "Directory for raw ingest logs")
		ingestLogEvery = flag.Int("ingest-log-every", config.DefaultIngestLogEvery, "Log every Nth ingest error")
		logPoses       = flag.Bool("log-poses", false, "Log every broadcast pose line")
	)
	flag.Parse()

	cfg := config.AppConfig{
		ListenAddr:      *listen,
		HTTPPort:        *port,
		Endpoint:        *endpoint,
		Devices:         config.SplitList(*devices),
		MaxMissedFrames: uint32(*maxMissed),
		WriteTimeout:    *writeTimeout,
		Debug:           *debug,
		DebugRate:       *debugRate,
		DebugDevices:    *debugDevices,
		RawLogEnabled:   *rawLogEnabled,
		RawLogDir:       *rawLogDir,
		IngestLogEvery:  *ingestLogEvery,
		LogPoses:        *logPoses,
	}
	cfg.Validate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New(cfg.WriteTimeout)
	defer reg.CloseAll()
	caster := broadcast.New(reg)
	caster.LogLines(cfg.LogPoses)

	var messages <-chan types.RawMessage
	if cfg.Debug {
		ids := cfg.Devices
		if len(ids) == 0 {
			for i := 0; i < cfg.DebugDevices; i++ {
				ids = append(ids, fmt.Sprintf("sim-%d", i))
			}
			cfg.Devices = ids
		}
		log.Printf("[main] simulating %d device(s) at %.1f fps", len(ids), cfg.DebugRate)
		messages = simulator.Stream(ctx, ids, cfg.DebugRate)
	} else {
		var recorder ingest.RawRecorder
		if cfg.RawLogEnabled {
			writer, err := output.NewRawLogWriter(cfg.RawLogDir, "raw_cbor")
			if err != nil {
				log.Fatalf("failed to start raw log: %v", err)
			}
			log.Printf("[main] recording raw messages to %s", writer.Name())
			recorder = writer
			defer func() {
				if err := writer.Close(); err != nil {
					log.Printf("[main] raw log close failed: %v", err)
				}
			}()
		}
		stream, err := ingest.StreamWithLogEveryAndRecorder(ctx, cfg.Endpoint, cfg.IngestLogEvery, recorder)
		if err != nil {
			log.Fatalf("failed to start ingest: %v", err)
		}
		messages = stream
	}

	pipe := pipeline.New(device.NewDirectory(cfg.Devices...), estimator.NewSynthetic(), caster, cfg.MaxMissedFrames)
	pipeDone := make(chan struct{})
	go func() {
		defer close(pipeDone)
		pipe.Run(ctx, messages)
	}()

	listener, err := server.Listen(cfg.ListenAddr, reg)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.ListenAddr, err)
	}
	log.Printf("[main] broadcasting poses on %s", listener.Addr())
	go func() {
		if err := listener.Serve(ctx); err != nil {
			log.Printf("[main] listener stopped: %v", err)
		}
	}()

	statusFn := func() types.StatusSnapshot {
		metrics := pipe.Metrics()
		stats := caster.Stats()
		metrics["lines_total"] = stats.Lines
		metrics["lines_delivered_total"] = stats.Delivered
		metrics["subscribers_evicted_total"] = stats.Evicted
		metrics["ingest_decode_failures_total"] = ingest.DecodeFailures()
		decodeCount, decodeNanos := ingest.DecodeTiming()
		metrics["ingest_decode_total"] = decodeCount
		metrics["ingest_decode_nanos_total"] = decodeNanos
		return types.StatusSnapshot{
			Type:    "status",
			Devices: pipe.Snapshots(),
			Clients: reg.Len(),
			Metrics: metrics,
		}
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snapshot := pipe.Metrics()
				stats := caster.Stats()
				log.Printf("[main] stats: batches=%v skipped=%v dropped=%v lines=%d clients=%d decode_failures=%d",
					snapshot["batches_total"],
					snapshot["batches_skipped_total"],
					snapshot["batches_dropped_total"],
					stats.Lines,
					reg.Len(),
					ingest.DecodeFailures(),
				)
			}
		}
	}()

	if cfg.HTTPPort > 0 {
		log.Printf("[main] status at http://localhost:%d/status", cfg.HTTPPort)
		if err := server.Run(ctx, cfg, reg, statusFn); err != nil {
			log.Printf("[main] http server stopped: %v", err)
		}
	}
	<-ctx.Done()
	<-pipeDone
	log.Printf("[main] shut down")
}
