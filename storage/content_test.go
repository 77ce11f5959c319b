package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/ruteri/artifact-repository-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckedReader(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		length  int64
		wantErr error
	}{
		{name: "exact", payload: "abcdef", length: 6},
		{name: "unknown length", payload: "abcdef", length: -1},
		{name: "empty", payload: "", length: 0},
		{name: "short", payload: "abc", length: 6, wantErr: errContentTooShort},
		{name: "long", payload: "abcdefgh", length: 6, wantErr: errContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := newCheckedReader(interfaces.StreamContent(strings.NewReader(tt.payload), tt.length))
			data, err := io.ReadAll(reader)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, isLengthMismatch(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(data))
			assert.Equal(t, int64(len(tt.payload)), reader.BytesRead())
		})
	}
}
