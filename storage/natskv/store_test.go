package natskv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"records.r-1", true},
		{"a/b=c_d", true},
		{"", false},
		{".lead", false},
		{"trail.", false},
		{"has space", false},
		{"wild*", false},
		{"wild>", false},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidKey(tt.key))
		})
	}
}

func TestCodec(t *testing.T) {
	payload := []byte(`{"id":"r-1","record":{"attributes":{}}}`)
	for _, compress := range []bool{false, true} {
		s := &Store{cfg: Config{Compress: compress}}
		encoded := s.encode(payload)
		if compress {
			assert.Equal(t, codecS2, encoded[0])
		} else {
			assert.Equal(t, codecRaw, encoded[0])
		}
		decoded, err := decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)
	}

	_, err := decode(nil)
	assert.Error(t, err)
	_, err = decode([]byte{9, 1})
	assert.Error(t, err)
}
