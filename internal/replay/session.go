// Package replay records the packets crossing the vehicle link and plays
// them back.
//
// Session log format, one record per line:
//
//	START
//	<t_ns>,<tx|rx>,<hex CRTP packet>
//
// t_ns counts nanoseconds since the preceding START. Blank lines and lines
// starting with '#' are ignored.
package replay

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Record is one logged packet. A START marker has a nil Packet.
type Record struct {
	At     time.Duration
	Dir    string
	Packet []byte
}

func (r Record) IsStart() bool { return r.Packet == nil }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: r} }

// Open reads a whole session file.
func Open(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "replay: open")
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	var recs []Record
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, errors.Wrapf(err, "replay: line %d", lineNo)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "replay: scan")
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 3 {
		return Record{}, errors.Errorf("want <t_ns>,<dir>,<hex>, got %q", line)
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
	if err != nil {
		return Record{}, errors.Wrap(err, "timestamp")
	}
	if ns < 0 {
		return Record{}, errors.Errorf("negative timestamp %d", ns)
	}
	dir := strings.TrimSpace(fields[1])
	if dir != "tx" && dir != "rx" {
		return Record{}, errors.Errorf("direction %q is not tx or rx", dir)
	}
	b, err := hex.DecodeString(strings.ReplaceAll(strings.TrimSpace(fields[2]), " ", ""))
	if err != nil {
		return Record{}, errors.Wrap(err, "payload")
	}
	if len(b) == 0 {
		return Record{}, errors.New("empty payload")
	}
	return Record{At: time.Duration(ns), Dir: dir, Packet: b}, nil
}

// Writer appends records to a session file. It is safe for concurrent use,
// so Tap can observe both directions of a link.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	err    error
	closed bool
}

// CreateWriter starts a session whose timestamps count from start.
func CreateWriter(path string, start time.Time) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "replay: create")
	}
	w := &Writer{f: f, w: bufio.NewWriterSize(f, 64*1024), start: start}
	if _, err := w.w.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "replay: write header")
	}
	return w, nil
}

func (w *Writer) Write(dir string, at time.Time, packet []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("replay: writer is closed")
	}
	if len(packet) == 0 {
		return errors.New("replay: empty packet")
	}
	d := at.Sub(w.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(w.w, "%d,%s,%s\n", d.Nanoseconds(), dir, hex.EncodeToString(packet))
	return err
}

// Tap matches link.Tap. The first write error is kept and reported by Err
// and Close.
func (w *Writer) Tap(dir string, at time.Time, packet []byte) {
	if err := w.Write(dir, at, packet); err != nil {
		w.mu.Lock()
		if w.err == nil {
			w.err = err
		}
		w.mu.Unlock()
	}
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.w.Flush()
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return errors.Wrap(err, "replay: flush")
	}
	if err := w.f.Close(); err != nil {
		return errors.Wrap(err, "replay: close")
	}
	return w.err
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play calls cb for every packet record, sleeping between records for their
// recorded spacing divided by speed. A START marker resets the origin.
// A mock clock's Add is a valid Sleeper for offline playback.
func Play(records []Record, speed float64, loop bool, sleeper Sleeper, cb func(Record) error) error {
	if speed <= 0 {
		return errors.New("replay: speed must be > 0")
	}
	if cb == nil {
		return errors.New("replay: callback is nil")
	}
	if len(records) == 0 {
		return errors.New("replay: no records")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}

	for {
		var last time.Duration
		haveLast := false
		for _, r := range records {
			if r.IsStart() {
				haveLast = false
				continue
			}
			if haveLast {
				if wait := time.Duration(float64(r.At-last) / speed); wait > 0 {
					sleeper.Sleep(wait)
				}
			}
			if err := cb(r); err != nil {
				return err
			}
			last = r.At
			haveLast = true
		}
		if !loop {
			return nil
		}
	}
}
