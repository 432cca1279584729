package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	walFilePerm       = 0600
	walDirPerm        = 0700
	maxMsgSize        = 10 * 1024 * 1024 // 10MB max record size
	defaultBufSize    = 64 * 1024
	defaultMaxSegSize = 64 * 1024 * 1024 // 64MB per segment before rotation
)

// FileWAL is a segmented file-based WAL.
type FileWAL struct {
	mu   sync.Mutex
	dir  string
	file *os.File
	buf  *bufio.Writer
	enc  *encoder

	started      bool
	segmentIndex int
	segmentSize  int64
	maxSegSize   int64
	minIndex     int
}

// NewFileWAL creates a file WAL in dir with the default segment size.
func NewFileWAL(dir string) (*FileWAL, error) {
	return NewFileWALWithOptions(dir, defaultMaxSegSize)
}

// NewFileWALWithOptions creates a file WAL with a custom max segment size.
func NewFileWALWithOptions(dir string, maxSegSize int64) (*FileWAL, error) {
	if err := os.MkdirAll(dir, walDirPerm); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if maxSegSize <= 0 {
		maxSegSize = defaultMaxSegSize
	}
	return &FileWAL{dir: dir, maxSegSize: maxSegSize}, nil
}

// Start opens the newest segment for appending.
func (w *FileWAL) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	lo, hi := w.scanSegments()
	w.minIndex = lo
	w.segmentIndex = hi

	if err := w.openSegment(w.segmentIndex); err != nil {
		return err
	}
	w.started = true
	return nil
}

// scanSegments returns the lowest and highest segment index present,
// (0, 0) for an empty directory.
func (w *FileWAL) scanSegments() (int, int) {
	lo, hi := -1, -1
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		var idx int
		if n, _ := fmt.Sscanf(entry.Name(), "wal-%05d", &idx); n == 1 {
			if lo < 0 || idx < lo {
				lo = idx
			}
			if idx > hi {
				hi = idx
			}
		}
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

func (w *FileWAL) segmentPath(index int) string {
	return filepath.Join(w.dir, fmt.Sprintf("wal-%05d", index))
}

func (w *FileWAL) openSegment(index int) error {
	path := w.segmentPath(index)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, walFilePerm)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment %d: %w", index, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat WAL segment: %w", err)
	}
	w.file = file
	w.buf = bufio.NewWriterSize(file, defaultBufSize)
	w.enc = newEncoder(w.buf)
	w.segmentSize = info.Size()
	return nil
}

// Stop flushes, syncs and closes the WAL.
func (w *FileWAL) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return nil
	}
	w.started = false

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

// Write appends a message (buffered).
func (w *FileWAL) Write(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.write(msg)
}

func (w *FileWAL) write(msg *Message) error {
	if !w.started {
		return ErrWALClosed
	}
	if w.segmentSize >= w.maxSegSize {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("failed to rotate WAL: %w", err)
		}
	}
	n, err := w.enc.Encode(msg)
	if err != nil {
		return err
	}
	w.segmentSize += int64(n)
	return nil
}

// WriteSync appends a message and syncs it to disk.
func (w *FileWAL) WriteSync(msg *Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.write(msg); err != nil {
		return err
	}
	return w.flushAndSync()
}

// FlushAndSync flushes and syncs all pending writes.
func (w *FileWAL) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return ErrWALClosed
	}
	return w.flushAndSync()
}

func (w *FileWAL) flushAndSync() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *FileWAL) rotate() error {
	if err := w.flushAndSync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	w.segmentIndex++
	return w.openSegment(w.segmentIndex)
}

// NewReader returns a reader over all segments in write order. The writer
// is flushed first so the reader observes every appended record.
func (w *FileWAL) NewReader() (Reader, error) {
	w.mu.Lock()
	if w.started {
		if err := w.flushAndSync(); err != nil {
			w.mu.Unlock()
			return nil, err
		}
	}
	lo, hi := w.minIndex, w.segmentIndex
	w.mu.Unlock()

	return &fileReader{wal: w, next: lo, last: hi}, nil
}

// fileReader iterates the records of all segments. A corrupted record ends
// iteration of its segment; later segments are still read.
type fileReader struct {
	wal  *FileWAL
	next int
	last int
	file *os.File
	dec  *decoder
}

func (r *fileReader) Decode() (*Message, error) {
	for {
		if r.dec == nil {
			if r.next > r.last {
				return nil, io.EOF
			}
			file, err := os.Open(r.wal.segmentPath(r.next))
			r.next++
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, err
			}
			r.file = file
			r.dec = newDecoder(bufio.NewReader(file))
		}

		msg, err := r.dec.Decode()
		if err == nil {
			return msg, nil
		}
		// End of segment, or a torn/corrupted tail: the rest of this
		// segment is unreadable, move to the next one.
		r.file.Close()
		r.file = nil
		r.dec = nil
	}
}

func (r *fileReader) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.dec = nil
		return err
	}
	return nil
}

// encoder frames records as length + data + CRC32.
type encoder struct {
	w   io.Writer
	buf []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: w, buf: make([]byte, 8)}
}

// Encode writes a record and returns the number of bytes written.
func (e *encoder) Encode(msg *Message) (int, error) {
	data, err := msg.Marshal()
	if err != nil {
		return 0, err
	}

	checksum := crc32.ChecksumIEEE(data)

	binary.BigEndian.PutUint32(e.buf[:4], uint32(len(data)))
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}
	if _, err := e.w.Write(data); err != nil {
		return 0, err
	}
	binary.BigEndian.PutUint32(e.buf[:4], checksum)
	if _, err := e.w.Write(e.buf[:4]); err != nil {
		return 0, err
	}
	return 4 + len(data) + 4, nil
}

// decoder reads framed records.
type decoder struct {
	r   io.Reader
	buf []byte
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{r: r, buf: make([]byte, 4)}
}

func (d *decoder) Decode() (*Message, error) {
	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(d.buf[:4])
	if length > maxMsgSize {
		return nil, ErrWALCorrupted
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(d.r, data); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(d.r, d.buf[:4]); err != nil {
		return nil, err
	}
	expectedCRC := binary.BigEndian.Uint32(d.buf[:4])
	if actualCRC := crc32.ChecksumIEEE(data); actualCRC != expectedCRC {
		return nil, fmt.Errorf("%w: CRC mismatch (expected %08x, got %08x)", ErrWALCorrupted, expectedCRC, actualCRC)
	}

	msg := &Message{}
	if err := msg.Unmarshal(data); err != nil {
		return nil, err
	}
	return msg, nil
}
