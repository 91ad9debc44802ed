package output

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestRawLogWriteAndRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRawLogWriter(dir, "raw_cbor")
	if err != nil {
		t.Fatalf("NewRawLogWriter error: %v", err)
	}
	payloads := [][]byte{[]byte("first"), {}, []byte("third")}
	for _, p := range payloads {
		if err := w.Record(p); err != nil {
			t.Fatalf("Record error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := w.Record([]byte("late")); err == nil {
		t.Fatalf("expected error writing to closed log")
	}

	f, err := os.Open(w.Name())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	r, err := NewRawLogReader(f)
	if err != nil {
		t.Fatalf("NewRawLogReader error: %v", err)
	}
	var got [][]byte
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next error: %v", err)
		}
		if rec.Time.IsZero() {
			t.Fatalf("record without timestamp")
		}
		got = append(got, rec.Payload)
	}
	if diff := cmp.Diff(payloads, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestRawLogReaderRejectsBadMagic(t *testing.T) {
	if _, err := NewRawLogReader(bytes.NewReader([]byte("STXMRAW1"))); err == nil {
		t.Fatalf("expected magic mismatch")
	}
}

func TestRawLogReaderTruncated(t *testing.T) {
	data := append([]byte(RawLogMagic), 0, 0, 0, 0, 0, 0, 0, 0, 10, 0, 0, 0, 'a')
	r, err := NewRawLogReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewRawLogReader error: %v", err)
	}
	if _, err := r.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNormalizeJSONValue(t *testing.T) {
	in := map[any]any{
		"devices": []any{"a", map[any]any{uint64(1): "b"}},
		"blob":    []byte{1, 2, 3},
	}
	want := map[string]any{
		"devices": []any{"a", map[string]any{"1": "b"}},
		"blob":    "<3 bytes>",
	}
	if diff := cmp.Diff(want, NormalizeJSONValue(in)); diff != "" {
		t.Fatalf("normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordCodec(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	var buf []byte
	buf = appendRecord(buf, RawRecord{Time: at, Payload: []byte("frame")})
	buf = appendRecord(buf, RawRecord{Time: at.Add(time.Millisecond), Payload: nil})
	if len(buf) != 2*recordHeaderSize+len("frame") {
		t.Fatalf("unexpected encoded length %d", len(buf))
	}

	r := bytes.NewReader(buf)
	first, err := readRecord(r)
	if err != nil || !first.Time.Equal(at) || string(first.Payload) != "frame" {
		t.Fatalf("first record: %+v err=%v", first, err)
	}
	second, err := readRecord(r)
	if err != nil || !second.Time.Equal(at.Add(time.Millisecond)) || len(second.Payload) != 0 {
		t.Fatalf("second record: %+v err=%v", second, err)
	}
	if _, err := readRecord(r); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}

	if _, err := readRecord(bytes.NewReader(buf[:5])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("partial header: %v", err)
	}
}

func TestRecordCodecRejectsOversizedLength(t *testing.T) {
	header := []byte{0, 0, 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}
	if _, err := readRecord(bytes.NewReader(header)); err == nil {
		t.Fatalf("expected oversized record to be rejected")
	}
}
