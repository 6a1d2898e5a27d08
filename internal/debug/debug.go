// Package debug is a thread-safe binary trace logger. The interrupt engine
// writes an entry per structural event (domain registration, allocation,
// activation) so routing decisions can be reconstructed after the fact.
//
// Each entry is a 16-byte header followed by the source and the message:
//   - 2 bytes kind (1 = bytes, 2 = string)
//   - 2 bytes source length
//   - 4 bytes message length
//   - 8 bytes timestamp (nanoseconds since epoch)
//
// Writers reserve space by atomically advancing a shared offset, so entries
// from concurrent goroutines never interleave.
package debug

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Writer is the sink entries are written to.
type Writer interface {
	io.WriterAt
	io.Closer
}

type sink struct {
	w Writer
}

var (
	current atomic.Pointer[sink]
	offset  atomic.Uint64
)

// Open installs w as the global trace sink. The returned error is a
// warning: a previous sink was discarded, possibly losing entries.
func Open(w Writer) error {
	offset.Store(0)
	if current.Swap(&sink{w: w}) != nil {
		return fmt.Errorf("debug: already open, discarded old writer")
	}
	return nil
}

// OpenFile truncates filename and installs it as the trace sink.
func OpenFile(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	return Open(f)
}

// Close detaches and closes the current sink, if any.
func Close() error {
	s := current.Swap(nil)
	offset.Store(0)
	if s != nil {
		return s.w.Close()
	}
	return nil
}

// Kind tags the payload encoding of an entry.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindBytes
	KindString
)

func write(kind Kind, source string, data []byte) {
	s := current.Load()
	if s == nil {
		return
	}

	header := make([]byte, 16)
	binary.LittleEndian.PutUint16(header[0:2], uint16(kind))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(source)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
	binary.LittleEndian.PutUint64(header[8:16], uint64(time.Now().UnixNano()))

	size := uint64(16 + len(source) + len(data))
	off := int64(offset.Add(size) - size)

	if _, err := s.w.WriteAt(header, off); err != nil {
		panic(err)
	}
	if _, err := s.w.WriteAt([]byte(source), off+16); err != nil {
		panic(err)
	}
	if _, err := s.w.WriteAt(data, off+16+int64(len(source))); err != nil {
		panic(err)
	}
}

// WriteBytes logs a binary payload under the given source.
func WriteBytes(source string, data []byte) { write(KindBytes, source, data) }

// Write logs a string payload under the given source.
func Write(source string, data string) { write(KindString, source, []byte(data)) }

// Writef logs a formatted string payload under the given source.
func Writef(source string, format string, args ...any) {
	write(KindString, source, fmt.Appendf(nil, format, args...))
}

// Debug is a source-bound handle, cheap to keep on long-lived objects.
type Debug interface {
	WriteBytes(data []byte)
	Write(data string)
	Writef(format string, args ...any)
}

type boundSource string

func (s boundSource) WriteBytes(data []byte) { write(KindBytes, string(s), data) }
func (s boundSource) Write(data string)      { write(KindString, string(s), []byte(data)) }
func (s boundSource) Writef(format string, args ...any) {
	write(KindString, string(s), fmt.Appendf(nil, format, args...))
}

// WithSource returns a Debug bound to one source name.
func WithSource(source string) Debug { return boundSource(source) }

// Entry is one decoded trace record.
type Entry struct {
	Time   time.Time
	Kind   Kind
	Source string
	Data   []byte
}

// Each decodes entries from r in write order.
func Each(r io.Reader, fn func(Entry) error) error {
	var header [16]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("debug: read header: %w", err)
		}

		kind := Kind(binary.LittleEndian.Uint16(header[0:2]))
		if kind == KindInvalid {
			return fmt.Errorf("debug: invalid entry header")
		}
		sourceLen := binary.LittleEndian.Uint16(header[2:4])
		dataLen := binary.LittleEndian.Uint32(header[4:8])
		ts := int64(binary.LittleEndian.Uint64(header[8:16]))

		buf := make([]byte, int(sourceLen)+int(dataLen))
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("debug: read entry: %w", err)
		}

		if err := fn(Entry{
			Time:   time.Unix(0, ts),
			Kind:   kind,
			Source: string(buf[:sourceLen]),
			Data:   buf[sourceLen:],
		}); err != nil {
			return err
		}
	}
}

// Memory is an in-memory sink for tests and short-lived capture.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// NewMemory returns an empty in-memory sink. Install it with Open.
func NewMemory() *Memory { return &Memory{} }

// WriteAt implements Writer.
func (m *Memory) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	end := int(off) + len(p)
	if end > len(m.data) {
		m.data = append(m.data, make([]byte, end-len(m.data))...)
	}
	copy(m.data[off:end], p)
	return len(p), nil
}

// Close implements Writer.
func (m *Memory) Close() error { return nil }

// Bytes returns the captured log.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}
