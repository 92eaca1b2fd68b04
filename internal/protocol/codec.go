package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidFrame is returned for frames that are not valid JSON or miss a type.
var ErrInvalidFrame = errors.New("protocol: invalid frame")

// Encode serializes a Frame for data channel transmission.
func Encode(f *Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidFrame, len(data), MaxFrameSize)
	}
	return data, nil
}

// Decode deserializes a data channel message into a Frame.
func Decode(data []byte) (*Frame, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidFrame, len(data), MaxFrameSize)
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return &f, nil
}
