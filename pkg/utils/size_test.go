package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
		wantErr  bool
	}{
		{"1024", 1024, false},
		{"0", 0, false},
		{"512B", 512, false},
		{"1KB", 1000, false},
		{"1KiB", 1024, false},
		{"1.5MiB", 1572864, false},
		{"2MB", 2000000, false},
		{"1GiB", 1073741824, false},
		{"64 KiB", 65536, false},
		{"16k", 16384, false},
		{"", 0, true},
		{"abc", 0, true},
		{"1XB", 0, true},
		{"-5KiB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDataSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseDataSizeWithDefault(t *testing.T) {
	assert.Equal(t, int64(4096), ParseDataSizeWithDefault("", 4096))
	assert.Equal(t, int64(4096), ParseDataSizeWithDefault("garbage", 4096))
	assert.Equal(t, int64(8192), ParseDataSizeWithDefault("8KiB", 4096))
}

func TestFormatDataSize(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1 KiB"},
		{1536, "1.5 KiB"},
		{1048576, "1 MiB"},
		{1073741824, "1 GiB"},
		{-1, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatDataSize(tt.bytes))
		})
	}
}
