package pose

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// maxMessageSize bounds a single worker message; a full HD JPEG is well under this.
const maxMessageSize = 32 << 20

// frameRequest is sent to the worker for every frame.
type frameRequest struct {
	Seq       int    `msgpack:"seq"`
	FrameData []byte `msgpack:"frame_data"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
}

// frameResponse is the worker's answer for one frame. Landmarks are [x, y, visibility] triples.
type frameResponse struct {
	Seq       int         `msgpack:"seq"`
	Detected  bool        `msgpack:"detected"`
	Landmarks [][]float64 `msgpack:"landmarks"`
	TimingMS  float64     `msgpack:"timing_ms"`
	Error     string      `msgpack:"error,omitempty"`
}

// writeMessage encodes v as MessagePack behind a 4 byte big-endian length prefix.
func writeMessage(w io.Writer, v any) error {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal msgpack: %w", err)
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed MessagePack message into v.
func readMessage(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal msgpack: %w", err)
	}
	return nil
}
