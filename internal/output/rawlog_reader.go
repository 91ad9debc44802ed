package output

import (
	"bufio"
	"fmt"
	"io"
)

type RawLogReader struct {
	r *bufio.Reader
}

// NewRawLogReader checks the log header and positions the reader at the
// first record.
func NewRawLogReader(r io.Reader) (*RawLogReader, error) {
	br := bufio.NewReader(r)
	header := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != RawLogMagic {
		return nil, fmt.Errorf("unexpected rawlog magic %q", string(header))
	}
	return &RawLogReader{r: br}, nil
}

// Next returns the next record, or io.EOF at a clean end of log. A record
// truncated mid-write is reported as io.ErrUnexpectedEOF.
func (r *RawLogReader) Next() (RawRecord, error) {
	return readRecord(r.r)
}
