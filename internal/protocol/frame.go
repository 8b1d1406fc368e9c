package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	headerSize = 4
	// MaxFrameSize bounds a frame body so a corrupt header cannot make the
	// reader allocate without limit.
	MaxFrameSize = 16 << 20
)

var (
	ErrFrameTooLarge = errors.New("frame too large")
	ErrEmptyFrame    = errors.New("empty frame")
	// ErrDecode means a complete frame arrived but its body is not valid JSON
	// for the expected message. The stream itself is still in sync.
	ErrDecode = errors.New("decode frame")
)

// Exchanger is the exact-size I/O both ends of a transport connection offer.
type Exchanger interface {
	SendSize(data []byte, size int) error
	ReadSize(size int) ([]byte, error)
}

// WriteFrame encodes v and sends it as one frame.
func WriteFrame(x Exchanger, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[headerSize:], body)

	return x.SendSize(frame, len(frame))
}

// ReadFrame receives one frame and decodes it into v. Numbers inside
// interface values decode as json.Number.
func ReadFrame(x Exchanger, v any) error {
	header, err := x.ReadSize(headerSize)
	if err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(header)
	switch {
	case size == 0:
		return ErrEmptyFrame
	case size > MaxFrameSize:
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body, err := x.ReadSize(int(size))
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
