package output

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// RawLogMagic opens every raw ingest log.
const RawLogMagic = "POSERAW1"

// Each record is [8-byte unix nanos LE][4-byte length LE][payload].
const recordHeaderSize = 12

// maxRecordSize rejects corrupt length fields before allocating.
const maxRecordSize = 64 << 20

// RawRecord is one message in a raw ingest log.
type RawRecord struct {
	Time    time.Time
	Payload []byte
}

func appendRecord(dst []byte, rec RawRecord) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(rec.Time.UnixNano()))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(rec.Payload)))
	return append(dst, rec.Payload...)
}

// readRecord returns io.EOF only when r ends exactly on a record boundary.
func readRecord(r io.Reader) (RawRecord, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return RawRecord{}, err
	}
	size := binary.LittleEndian.Uint32(header[8:])
	if size > maxRecordSize {
		return RawRecord{}, fmt.Errorf("record of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return RawRecord{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	return RawRecord{Time: time.Unix(0, ts), Payload: payload}, nil
}
