package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"posecast-go/internal/ingest"
	"posecast-go/internal/output"
	"posecast-go/internal/types"
)

func main() {
	var (
		path    = flag.String("path", "", "Path to rawlog .bin file")
		limit   = flag.Int("limit", 1, "Number of records to dump (0 for all)")
		summary = flag.Bool("summary", false, "Print one line per frame instead of the full message")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatal(err)
	}

	var startCount, frameCount, endCount, failed int
	for count := 0; *limit <= 0 || count < *limit; count++ {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("record %d: %v", count, err)
			break
		}

		if *summary {
			msg, err := ingest.Decode(rec.Payload)
			if err != nil {
				failed++
				log.Printf("record %d: %v", count, err)
				continue
			}
			switch msg.Type {
			case "start":
				startCount++
				fmt.Printf("%s start devices=%v\n", rec.Time.Format(time.RFC3339Nano), msg.Meta["devices"])
			case "end":
				endCount++
				fmt.Printf("%s end\n", rec.Time.Format(time.RFC3339Nano))
			case "frame":
				frameCount++
				fmt.Printf("%s %s\n", rec.Time.Format(time.RFC3339Nano), describeBatch(msg.Batch))
			}
			continue
		}

		var decoded any
		if err := cbor.Unmarshal(rec.Payload, &decoded); err != nil {
			log.Printf("record %d: CBOR decode error: %v", count, err)
			continue
		}
		pretty, err := json.MarshalIndent(output.NormalizeJSONValue(decoded), "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			continue
		}
		log.Printf("record %d timestamp=%s size=%d", count, rec.Time.Format(time.RFC3339Nano), len(rec.Payload))
		fmt.Println(string(pretty))
	}

	if *summary {
		fmt.Printf("summary: start=%d frame=%d end=%d failed=%d\n", startCount, frameCount, endCount, failed)
	}
}

func describeBatch(b types.FrameBatch) string {
	tracked := 0
	for _, s := range b.Subjects {
		if s.State == types.Tracked {
			tracked++
		}
	}
	desc := fmt.Sprintf("frame device=%s n=%d color=%s(%dB) depth=%s(%d px) subjects=%d tracked=%d",
		b.DeviceID, b.FrameNumber, b.ColorFormat, len(b.Color), b.DepthFormat, len(b.Depth), len(b.Subjects), tracked)
	if !b.Complete {
		desc += " incomplete"
	}
	return desc
}
