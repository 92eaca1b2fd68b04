package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDecodeBrowserFrame verifies frames produced by a browser peer's
// JSON.stringify are accepted.
func TestDecodeBrowserFrame(t *testing.T) {
	f, err := Decode([]byte(`{"type":"message","name":"alice","text":"hi","extra":1}`))
	require.NoError(t, err)
	require.Equal(t, &Frame{Type: TypeMessage, Name: "alice", Text: "hi"}, f)
}

func TestEncodeOmitsEmptyFields(t *testing.T) {
	data, err := Encode(&Frame{Type: TypeHangUp})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"hang-up"}`, string(data))
}

func TestInvalidFrames(t *testing.T) {
	testCases := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"missing type", `{"text":"hi"}`},
		{"oversized", `{"type":"message","text":"` + strings.Repeat("x", MaxFrameSize) + `"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			require.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	_, err := Encode(&Frame{Text: "no type"})
	require.ErrorIs(t, err, ErrInvalidFrame)

	_, err = Encode(&Frame{Type: TypeMessage, Text: strings.Repeat("x", MaxFrameSize)})
	require.ErrorIs(t, err, ErrInvalidFrame)
}
