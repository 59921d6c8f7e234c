package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompatible(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		helper string
		ok     bool
	}{
		{"exact match", "1.0.0", "1.0.0", true},
		{"same major newer minor", "1.0.0", "1.4.2", true},
		{"same major older patch", "1.2.3", "1.2.1", true},
		{"major behind", "2.0.0", "1.9.9", false},
		{"major ahead", "1.0.0", "2.0.0", false},
		{"garbage helper version", "1.0.0", "not-a-version", false},
		{"garbage wanted version", "???", "1.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, Compatible(tt.want, tt.helper))
		})
	}
}
