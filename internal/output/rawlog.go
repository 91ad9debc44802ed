package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var errRawLogClosed = errors.New("raw log writer is closed")

// RawLogWriter appends every ingest message, as received, to a file named
// <outputDir>/<timestamp>_<prefix>.bin. Each Record is flushed so a crash
// loses at most the message being written.
type RawLogWriter struct {
	mu      sync.Mutex
	file    *os.File
	buf     *bufio.Writer
	scratch []byte
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s_%s.bin", time.Now().Format("20060102_150405"), prefix)
	file, err := os.Create(filepath.Join(outputDir, name))
	if err != nil {
		return nil, err
	}
	lw := &RawLogWriter{file: file, buf: bufio.NewWriterSize(file, 1<<20)}
	if err := lw.flush([]byte(RawLogMagic)); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return lw, nil
}

func (lw *RawLogWriter) Name() string {
	return lw.file.Name()
}

// Record implements ingest.RawRecorder.
func (lw *RawLogWriter) Record(payload []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.buf == nil {
		return errRawLogClosed
	}
	lw.scratch = appendRecord(lw.scratch[:0], RawRecord{Time: time.Now(), Payload: payload})
	return lw.flush(lw.scratch)
}

func (lw *RawLogWriter) flush(p []byte) error {
	if _, err := lw.buf.Write(p); err != nil {
		return err
	}
	return lw.buf.Flush()
}

// Close flushes and closes the file. Later Records fail.
func (lw *RawLogWriter) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.buf == nil {
		return nil
	}
	flushErr := lw.buf.Flush()
	lw.buf = nil
	return errors.Join(flushErr, lw.file.Close())
}
