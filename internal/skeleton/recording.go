package skeleton

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// RecordingMagic prefixes every skeleton recording file.
const RecordingMagic = "SKELREC1"

// record header: int64 unix nanos + uint32 payload length, little endian
const recordHeaderLen = 12

// maxRecordSize bounds a single CBOR record.
const maxRecordSize = 16 << 20

// ErrBadMagic is returned when a file is not a skeleton recording.
var ErrBadMagic = errors.New("skeleton: not a skeleton recording")

// Recorder appends CBOR-encoded frames to a recording.
type Recorder struct {
	mu  sync.Mutex
	c   io.Closer
	w   *bufio.Writer
	enc cbor.EncMode
}

// CreateRecording creates (truncating) a recording file at path.
func CreateRecording(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	r, err := NewRecorder(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

// NewRecorder writes the recording magic to w and returns a Recorder.
func NewRecorder(w io.Writer) (*Recorder, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(w, 256*1024)
	if _, err := bw.WriteString(RecordingMagic); err != nil {
		return nil, err
	}
	return &Recorder{w: bw, enc: enc}, nil
}

// Record appends one frame stamped with ts.
func (r *Recorder) Record(ts time.Time, f *Frame) error {
	payload, err := r.enc.Marshal(f)
	if err != nil {
		return fmt.Errorf("skeleton: encode frame: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("skeleton: recorder is closed")
	}

	var header [recordHeaderLen]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(ts.UnixNano()))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	_, err = r.w.Write(payload)
	return err
}

// Close flushes buffered records and closes the underlying file if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Flush()
	r.w = nil
	if r.c != nil {
		if cerr := r.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// TimedFrame is a frame with the time it was recorded.
type TimedFrame struct {
	At    time.Time
	Frame *Frame
}

// ReadRecording decodes every frame in a recording stream.
func ReadRecording(rd io.Reader) ([]TimedFrame, error) {
	br := bufio.NewReader(rd)

	magic := make([]byte, len(RecordingMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("skeleton: read magic: %w", err)
	}
	if string(magic) != RecordingMagic {
		return nil, ErrBadMagic
	}

	var frames []TimedFrame
	for {
		var header [recordHeaderLen]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				return frames, nil
			}
			return frames, fmt.Errorf("skeleton: read record header: %w", err)
		}
		ts := int64(binary.LittleEndian.Uint64(header[:8]))
		size := binary.LittleEndian.Uint32(header[8:])
		if size == 0 {
			continue
		}
		if size > maxRecordSize {
			return frames, fmt.Errorf("skeleton: record of %d bytes exceeds limit", size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return frames, fmt.Errorf("skeleton: read record payload: %w", err)
		}

		var f Frame
		if err := cbor.Unmarshal(payload, &f); err != nil {
			return frames, fmt.Errorf("skeleton: decode record %d: %w", len(frames), err)
		}
		frames = append(frames, TimedFrame{At: time.Unix(0, ts), Frame: &f})
	}
}

// LoadRecording reads a recording file.
func LoadRecording(path string) ([]TimedFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecording(f)
}

// ReplayTracker plays a recording back against the wall clock.
type ReplayTracker struct {
	*CameraRig

	frames []TimedFrame
	loop   bool
	start  time.Time
	now    func() time.Time
}

// NewReplayTracker creates a tracker that starts playing frames immediately.
func NewReplayTracker(frames []TimedFrame, rig *CameraRig, loop bool) *ReplayTracker {
	if rig == nil {
		rig = NewCameraRig()
	}
	return &ReplayTracker{
		CameraRig: rig,
		frames:    frames,
		loop:      loop,
		start:     time.Now(),
		now:       time.Now,
	}
}

// CurrentSkeletonFrame returns the frame recorded at the current playback
// offset. A finished, non-looping replay reports no data.
func (t *ReplayTracker) CurrentSkeletonFrame() (*Frame, bool) {
	if len(t.frames) == 0 {
		return nil, false
	}

	first := t.frames[0].At
	total := t.frames[len(t.frames)-1].At.Sub(first)
	elapsed := t.now().Sub(t.start)

	if elapsed > total {
		if !t.loop {
			return nil, false
		}
		if total <= 0 {
			return t.frames[0].Frame, true
		}
		elapsed %= total
	}

	// last frame recorded at or before the playback offset
	idx := 0
	for i := range t.frames {
		if t.frames[i].At.Sub(first) > elapsed {
			break
		}
		idx = i
	}
	return t.frames[idx].Frame, true
}
