package s3blob

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		useSSL bool
		want   string
	}{
		{"https://e2.example.com", false, "https://e2.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
		{"minio:9000", false, "http://minio:9000"},
		{"r2.example.com", true, "https://r2.example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normaliseEndpoint(tt.in, tt.useSSL), tt.in)
	}
}

func TestKeyPrefix(t *testing.T) {
	s := &Store{prefix: normalisePrefix("/prod/")}
	assert.Equal(t, "prod/replay/a.csv", s.key("replay/a.csv"))
	assert.Equal(t, "prod/replay/a.csv", s.key("/replay/a.csv"))
	assert.Equal(t, "replay/a.csv", s.trimKey("prod/replay/a.csv"))

	bare := &Store{prefix: normalisePrefix("")}
	assert.Equal(t, "replay/a.csv", bare.key("replay/a.csv"))
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(fmt.Errorf("wrap: %w", &types.NoSuchKey{})))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(statusErr(404)))
	assert.False(t, isNotFound(statusErr(403)))
	assert.False(t, isNotFound(errors.New("timeout")))
}
