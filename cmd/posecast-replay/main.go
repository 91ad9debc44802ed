package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"

	"posecast-go/internal/output"
)

// posecast-replay binds a PUSH socket and plays a raw ingest log back to a
// posecast daemon, keeping the recorded spacing between messages.
func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		bind  = flag.String("bind", "tcp://*:31002", "ZMQ endpoint to bind")
		speed = flag.Float64("speed", 1.0, "Playback speed multiplier (0 sends as fast as possible)")
		loop  = flag.Bool("loop", false, "Restart from the beginning at end of log")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	socket, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		log.Fatalf("create socket: %v", err)
	}
	defer socket.Close()
	if err := socket.SetSndtimeo(time.Second); err != nil {
		log.Fatalf("set send timeout: %v", err)
	}
	if err := socket.Bind(*bind); err != nil {
		log.Fatalf("bind %s: %v", *bind, err)
	}
	log.Printf("[replay] serving %s on %s", *path, *bind)

	for {
		sent, err := replay(ctx, socket, *path, *speed)
		log.Printf("[replay] sent %d messages", sent)
		if err != nil {
			log.Fatalf("replay: %v", err)
		}
		if !*loop || ctx.Err() != nil {
			return
		}
	}
}

func replay(ctx context.Context, socket *zmq4.Socket, path string, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		return 0, err
	}

	var prev time.Time
	sent := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(rec.Time.Sub(prev)) / speed)
			if gap > 0 {
				select {
				case <-ctx.Done():
					return sent, nil
				case <-time.After(gap):
				}
			}
		}
		prev = rec.Time
		if ctx.Err() != nil {
			return sent, nil
		}
		for {
			_, err := socket.SendBytes(rec.Payload, 0)
			if err == nil {
				break
			}
			if zmq4.AsErrno(err) != zmq4.Errno(syscall.EAGAIN) {
				return sent, err
			}
			// no peer yet
			if ctx.Err() != nil {
				return sent, nil
			}
		}
		sent++
	}
}
