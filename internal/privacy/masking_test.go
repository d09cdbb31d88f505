package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskUserID(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"short id fully masked", "abc", "***"},
		{"long id keeps tail", "u-1234567890", "********7890"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskUserID(tt.in))
		})
	}
}

func TestMaskThreadKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"peer key", "peer-123456", "*******3456"},
		{"group key keeps prefix", "g:team-alpha-7", "g:********ha-7"},
		{"short group", "g:ab", "g:**"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskThreadKey(tt.in))
		})
	}
}
