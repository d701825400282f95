package replay

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickrl/internal/domain"
)

func awkwardSample() domain.ExperienceSample {
	var s domain.ExperienceSample
	s.Action = domain.ActionSell
	s.Reward = 0.1
	for i := range s.State {
		s.State[i] = float32(math.Pi) * float32(i+1) / 7
		s.NextState[i] = -float32(math.E) * float32(i) * 1e-7
	}
	s.State[3] = math.MaxFloat32
	s.NextState[5] = math.SmallestNonzeroFloat32
	return s
}

func TestColumns(t *testing.T) {
	cols := Columns()
	require.Len(t, cols, 26)
	assert.Equal(t, "action", cols[0])
	assert.Equal(t, "reward", cols[1])
	assert.Equal(t, "state_0", cols[2])
	assert.Equal(t, "state_11", cols[13])
	assert.Equal(t, "next_0", cols[14])
	assert.Equal(t, "next_11", cols[25])
}

func TestRecordRoundTripIsExact(t *testing.T) {
	s := awkwardSample()
	got, err := DecodeRecord(EncodeRecord(s))
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestCSVRoundTrip(t *testing.T) {
	samples := []domain.ExperienceSample{awkwardSample(), {Action: domain.ActionBuy, Reward: -0.01}}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, samples))
	assert.True(t, strings.HasPrefix(buf.String(), "action,reward,state_0,"))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}

func TestReadCSVWithoutHeader(t *testing.T) {
	row := strings.Join(EncodeRecord(domain.ExperienceSample{Action: domain.ActionHold}), ",")
	got, err := ReadCSV(strings.NewReader(row + "\n"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.ActionHold, got[0].Action)
}

func TestDecodeRecordRejectsBadInput(t *testing.T) {
	good := EncodeRecord(awkwardSample())

	tests := []struct {
		name   string
		mutate func([]string) []string
	}{
		{"short", func(r []string) []string { return r[:10] }},
		{"negative action", func(r []string) []string { r[0] = "-1"; return r }},
		{"action out of range", func(r []string) []string { r[0] = "3"; return r }},
		{"bad reward", func(r []string) []string { r[1] = "abc"; return r }},
		{"bad state", func(r []string) []string { r[7] = ""; return r }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tt.mutate(append([]string(nil), good...))
			_, err := DecodeRecord(rec)
			assert.True(t, errors.Is(err, domain.ErrBadRecord), "got %v", err)
		})
	}
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replay.csv")
	samples := []domain.ExperienceSample{awkwardSample()}

	require.NoError(t, SaveFile(path, samples))
	got, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, samples, got)
}
