package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActiveSessions(t *testing.T) {
	s := &stats{}
	s.OpenSession()
	s.OpenSession()
	s.CloseSession()
	require.EqualValues(t, 1, s.Active())
}

func TestFormatStats(t *testing.T) {
	got := formatStats(2, 1, 3, 10, 0)
	require.Equal(t, "Sessions:  2 | Offers:  1↑ | Answers:  3↑ | ICE:  10 | Failures: 0", got)
}
