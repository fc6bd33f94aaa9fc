package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"4Ki", 4 * KiB},
		{"4ki", 4 * KiB},
		{"16Mi", 16 * MiB},
		{"1Gi", GiB},
		{"100KB", 100 * KB},
		{"2MB", 2 * MB},
		{"3gb", 3 * GB},
		{"512b", 512},
		{" 8 Ki ", 8 * KiB},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "Ki", "-1", "1.5Mi", "4Xi", "four"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("8Ki")))
	assert.Equal(t, 8*KiB, b)

	assert.Error(t, b.UnmarshalText([]byte("bogus")))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", (512 * B).String())
	assert.Equal(t, "4.00KiB", (4 * KiB).String())
	assert.Equal(t, "16.00MiB", (16 * MiB).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
}

func TestConversions(t *testing.T) {
	b := 4 * KiB
	assert.Equal(t, 4096, b.Int())
	assert.Equal(t, int64(4096), b.Int64())
}
