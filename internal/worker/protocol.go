package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/care/postura/internal/pose"
)

// maxMessageSize bounds a single worker message.
const maxMessageSize = 64 << 20

// Message types exchanged with the Python worker.
const (
	msgReady  = "ready"
	msgError  = "error"
	msgResult = "result"
	msgFrame  = "frame"
)

// request is one frame sent to the worker.
type request struct {
	Type      string      `msgpack:"type"`
	Seq       uint64      `msgpack:"seq"`
	FrameData []byte      `msgpack:"frame_data"`
	Format    string      `msgpack:"format"`
	Width     int         `msgpack:"width"`
	Height    int         `msgpack:"height"`
	Meta      requestMeta `msgpack:"meta"`
}

type requestMeta struct {
	InstanceID   string `msgpack:"instance_id"`
	TraceID      string `msgpack:"trace_id"`
	Timestamp    string `msgpack:"timestamp"`
	SourceWidth  int    `msgpack:"source_width"`
	SourceHeight int    `msgpack:"source_height"`
}

// response is any message read from the worker.
type response struct {
	Type   string             `msgpack:"type"`
	Seq    uint64             `msgpack:"seq"`
	Poses  []pose.Pose        `msgpack:"poses"`
	Error  string             `msgpack:"error"`
	Model  string             `msgpack:"model"`
	Timing map[string]float64 `msgpack:"timing"`
}

// writeMessage writes v as a 4-byte big-endian length followed by msgpack.
func writeMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}

	lengthPrefix := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthPrefix, uint32(len(payload)))

	if _, err := w.Write(lengthPrefix); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write msgpack data: %w", err)
	}
	return nil
}

// readMessage reads one length-prefixed msgpack message into v.
func readMessage(r io.Reader, v interface{}) error {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf)
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read msgpack data (expected %d bytes): %w", n, err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return nil
}
