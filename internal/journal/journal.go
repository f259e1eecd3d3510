// Package journal persists simulator runs: a msgpack stream of one
// header, the per-step operation records, an end marker and a closing
// summary. Files are written to a temp name and renamed into place so a
// crashed run never leaves a half-readable journal.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// SchemaVersion is bumped whenever the record format changes; readers
// refuse journals from another schema.
const SchemaVersion uint16 = 1

// Op is the operation a record describes.
type Op uint8

const (
	OpAcquire Op = iota + 1
	OpTryAcquire
	OpRelease
	OpSend
	OpRecv
	OpRaise

	// opEnd terminates the record stream; the summary follows.
	opEnd Op = 0xFF
)

func (o Op) String() string {
	switch o {
	case OpAcquire:
		return "acquire"
	case OpTryAcquire:
		return "try-acquire"
	case OpRelease:
		return "release"
	case OpSend:
		return "send"
	case OpRecv:
		return "recv"
	case OpRaise:
		return "raise"
	default:
		return "unknown"
	}
}

// Result says how the operation resolved.
type Result uint8

const (
	ResultOK Result = iota + 1
	ResultBusy
	ResultTimedOut
	ResultDropped
	ResultEmpty
	ResultKilled
	ResultExhausted
	ResultClosed
	ResultFault
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultBusy:
		return "busy"
	case ResultTimedOut:
		return "timed-out"
	case ResultDropped:
		return "dropped"
	case ResultEmpty:
		return "empty"
	case ResultKilled:
		return "killed"
	case ResultExhausted:
		return "exhausted"
	case ResultClosed:
		return "closed"
	case ResultFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Header identifies the run a journal belongs to.
type Header struct {
	Schema      uint16 `msgpack:"schema"`
	Workload    string `msgpack:"workload"`
	Seed        uint64 `msgpack:"seed"`
	CPUs        int    `msgpack:"cpus"`
	Tasks       int    `msgpack:"tasks"`
	Steps       int    `msgpack:"steps"`
	Locks       int    `msgpack:"locks"`
	Policy      string `msgpack:"policy"`
	CreatedUnix int64  `msgpack:"created_unix"`
}

// Record is one completed operation.
type Record struct {
	Step     uint32 `msgpack:"step"`
	Task     uint64 `msgpack:"task"`
	CPU      int32  `msgpack:"cpu"`
	Op       Op     `msgpack:"op"`
	Object   string `msgpack:"object,omitempty"`
	Result   Result `msgpack:"result"`
	Priority int8   `msgpack:"prio,omitempty"`
	Seq      uint64 `msgpack:"seq,omitempty"`
	Code     uint8  `msgpack:"code,omitempty"`
}

// Summary closes a journal with the end-of-run state the replayer checks
// records against.
type Summary struct {
	Records  uint64            `msgpack:"records"`
	Holders  map[string]uint64 `msgpack:"holders"`  // final lock holders, 0 = free
	Leftover map[string]int    `msgpack:"leftover"` // messages left per inbox
	Dropped  map[string]uint64 `msgpack:"dropped"`  // drop counts per inbox
}

// Writer streams a journal to disk.
type Writer struct {
	path string
	tmp  *os.File
	buf  *bufio.Writer
	enc  *msgpack.Encoder
	n    uint64
	done bool
}

// Create opens a journal writer targeting path and writes the header.
func Create(path string, hdr Header) (*Writer, error) {
	hdr.Schema = SchemaVersion
	if hdr.CreatedUnix == 0 {
		hdr.CreatedUnix = time.Now().Unix()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return nil, fmt.Errorf("journal: create %s: %w", path, err)
	}
	buf := bufio.NewWriter(tmp)
	enc := msgpack.NewEncoder(buf)
	if err := enc.Encode(&hdr); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("journal: write header: %w", err)
	}
	return &Writer{path: path, tmp: tmp, buf: buf, enc: enc}, nil
}

// Append writes one record.
func (w *Writer) Append(rec Record) error {
	if w == nil {
		return nil
	}
	if w.done {
		return errors.New("journal: append after finalize")
	}
	if err := w.enc.Encode(&rec); err != nil {
		return fmt.Errorf("journal: append: %w", err)
	}
	w.n++
	return nil
}

// Finalize writes the end marker and summary, then renames the journal
// into place. The writer is unusable afterwards.
func (w *Writer) Finalize(sum Summary) error {
	if w == nil || w.done {
		return nil
	}
	w.done = true
	sum.Records = w.n
	if err := w.enc.Encode(&Record{Op: opEnd}); err != nil {
		w.discard()
		return fmt.Errorf("journal: finalize: %w", err)
	}
	if err := w.enc.Encode(&sum); err != nil {
		w.discard()
		return fmt.Errorf("journal: finalize: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		w.discard()
		return fmt.Errorf("journal: flush: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("journal: close: %w", err)
	}
	if err := os.Rename(w.tmp.Name(), w.path); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("journal: publish: %w", err)
	}
	return nil
}

// Abort drops the unfinished journal.
func (w *Writer) Abort() {
	if w == nil || w.done {
		return
	}
	w.done = true
	w.discard()
}

func (w *Writer) discard() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}

// Reader replays a journal.
type Reader struct {
	f   *os.File
	dec *msgpack.Decoder
	hdr Header
	sum *Summary
}

// NewReader reads a journal stream from r, checking the header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := msgpack.NewDecoder(bufio.NewReader(r))
	var hdr Header
	if err := dec.Decode(&hdr); err != nil {
		return nil, fmt.Errorf("journal: read header: %w", err)
	}
	if hdr.Schema != SchemaVersion {
		return nil, fmt.Errorf("journal: schema %d, this build reads %d", hdr.Schema, SchemaVersion)
	}
	return &Reader{dec: dec, hdr: hdr}, nil
}

// Open reads and checks the journal header of a file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	rd, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	rd.f = f
	return rd, nil
}

// Header returns the journal header.
func (r *Reader) Header() Header { return r.hdr }

// Next returns the next record. At the end marker it reads the summary
// and reports io.EOF.
func (r *Reader) Next() (Record, error) {
	if r.sum != nil {
		return Record{}, io.EOF
	}
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			// Plain EOF means the end marker never came.
			return Record{}, fmt.Errorf("journal: truncated record stream: %w", io.ErrUnexpectedEOF)
		}
		return Record{}, fmt.Errorf("journal: read record: %w", err)
	}
	if rec.Op == opEnd {
		var sum Summary
		if err := r.dec.Decode(&sum); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, fmt.Errorf("journal: truncated summary: %w", io.ErrUnexpectedEOF)
			}
			return Record{}, fmt.Errorf("journal: read summary: %w", err)
		}
		r.sum = &sum
		return Record{}, io.EOF
	}
	return rec, nil
}

// Summary returns the closing summary once Next has reached the end.
func (r *Reader) Summary() (Summary, bool) {
	if r.sum == nil {
		return Summary{}, false
	}
	return *r.sum, true
}

// Close releases the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	return r.f.Close()
}

// ReadAll loads a whole journal: header, records and summary.
func ReadAll(path string) (Header, []Record, Summary, error) {
	r, err := Open(path)
	if err != nil {
		return Header{}, nil, Summary{}, err
	}
	defer r.Close()
	var records []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.Header(), records, Summary{}, err
		}
		records = append(records, rec)
	}
	sum, ok := r.Summary()
	if !ok {
		return r.Header(), records, Summary{}, errors.New("journal: truncated before summary")
	}
	return r.Header(), records, sum, nil
}
