// Package capture records the raw chunks a relay receives and replays them
// through a dispatcher. A capture file is a sequence of records, each a
// 4-byte big-endian length followed by one CBOR-encoded Record.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/fxamacker/cbor/v2"
)

// MaxRecord caps one encoded record. A receive chunk is at most 64KiB.
const MaxRecord = 1 << 20

var ErrRecordTooLarge = errors.New("capture: record too large")

// Record is one chunk as it arrived on a session.
type Record struct {
	Session   string          `cbor:"1,keyasint"`
	Direction proto.Direction `cbor:"2,keyasint"`
	Time      time.Time       `cbor:"3,keyasint"`
	Data      []byte          `cbor:"4,keyasint"`
}

var encMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Writer appends records to an underlying stream. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	count  int
}

func NewWriter(w io.Writer) *Writer {
	cw := &Writer{w: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Create opens path for appending.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	return NewWriter(f), nil
}

// Write encodes rec and flushes it.
func (w *Writer) Write(rec Record) error {
	body, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode capture record: %w", err)
	}
	if len(body) > MaxRecord {
		return fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, len(body))
	}
	var head [4]byte
	binary.BigEndian.PutUint32(head[:], uint32(len(body)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(head[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(body); err != nil {
		return err
	}
	w.count++
	return w.w.Flush()
}

// Count is the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Reader reads records written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read returns the next record, or io.EOF at a clean end of stream.
func (r *Reader) Read() (Record, error) {
	var rec Record
	var head [4]byte
	if _, err := io.ReadFull(r.r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return rec, fmt.Errorf("capture: truncated record header: %w", err)
		}
		return rec, err
	}
	n := binary.BigEndian.Uint32(head[:])
	if n > MaxRecord {
		return rec, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return rec, fmt.Errorf("capture: truncated record: %w", err)
	}
	if err := cbor.Unmarshal(body, &rec); err != nil {
		return rec, fmt.Errorf("decode capture record: %w", err)
	}
	dir, err := proto.ParseDirection(string(rec.Direction))
	if err != nil {
		return rec, fmt.Errorf("capture: %w", err)
	}
	rec.Direction = dir
	return rec, nil
}
