package protocol

import (
	"bytes"
	"errors"
)

// DefaultMaxBuffer bounds how many bytes a single connection may
// accumulate without completing a frame (1 MB).
const DefaultMaxBuffer = 1024 * 1024

var ErrBufferOverflow = errors.New("frame buffer overflow")

// Buffer reassembles the byte stream of one connection into frames
// delimited by the terminator sequence. It carries no framing knowledge
// beyond the terminator; parsing is the caller's job.
type Buffer struct {
	data []byte
	max  int
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxBuffer
	}
	return &Buffer{max: max}
}

// Push appends data to the buffer and returns the raw frames it
// completes, terminator stripped. Bytes after the last terminator stay
// buffered for the next call. A lone newline is ignored so that
// keep-alive pings never disturb a partially accumulated frame.
// The limit applies to the unfinished remainder only; when it is
// exceeded that remainder is dropped and ErrBufferOverflow returned
// alongside any frames the push completed.
func (b *Buffer) Push(data []byte) ([][]byte, error) {
	if len(data) == 1 && data[0] == '\n' {
		return nil, nil
	}
	b.data = append(b.data, data...)

	var frames [][]byte
	if bytes.Contains(b.data, []byte(TermSeq)) {
		parts := bytes.Split(b.data, []byte(TermSeq))
		frames = make([][]byte, 0, len(parts)-1)
		for _, part := range parts[:len(parts)-1] {
			frames = append(frames, append([]byte(nil), part...))
		}
		// keep the tail; copy is safe against the aliased split result
		tail := parts[len(parts)-1]
		b.data = append(b.data[:0], tail...)
	}

	if len(b.data) > b.max {
		b.data = b.data[:0]
		return frames, ErrBufferOverflow
	}
	return frames, nil
}

// Flush clears any partially accumulated frame.
func (b *Buffer) Flush() {
	b.data = b.data[:0]
}

// Pending returns the number of buffered bytes not yet framed.
func (b *Buffer) Pending() int {
	return len(b.data)
}
