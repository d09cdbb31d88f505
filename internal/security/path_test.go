package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFilePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"absolute path", "/var/lib/chatledger/store.db", false},
		{"relative path", "store.db", false},
		{"nested relative", "data/store.db", false},
		{"empty", "", true},
		{"traversal", "../secrets/store.db", true},
		{"embedded traversal", "data/../../secrets.db", true},
		{"nul byte", "store.db\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFilePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateFilePathWithBase(t *testing.T) {
	assert.NoError(t, ValidateFilePathWithBase("store.db", "/data"))
	assert.NoError(t, ValidateFilePathWithBase("nested/store.db", "/data"))
	assert.Error(t, ValidateFilePathWithBase("/etc/passwd", "/data"), "absolute path under base")
	assert.Error(t, ValidateFilePathWithBase("../escape.db", "/data"))
}
