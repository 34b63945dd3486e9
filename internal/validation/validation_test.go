package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/library-system/internal/model"
)

func TestPageRequest(t *testing.T) {
	tests := []struct {
		name    string
		in      model.PageRequest
		want    model.PageRequest
		wantErr bool
	}{
		{
			name: "defaults",
			in:   model.PageRequest{},
			want: model.PageRequest{Limit: model.DefaultLimit},
		},
		{
			name: "trims search",
			in:   model.PageRequest{Search: "  42 ", Offset: 10, Limit: 5},
			want: model.PageRequest{Search: "42", Offset: 10, Limit: 5},
		},
		{
			name:    "negative offset",
			in:      model.PageRequest{Offset: -1, Limit: 5},
			wantErr: true,
		},
		{
			name:    "negative limit",
			in:      model.PageRequest{Limit: -3},
			wantErr: true,
		},
		{
			name:    "limit too large",
			in:      model.PageRequest{Limit: model.MaxLimit + 1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PageRequest(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, model.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("bookID", "17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)

	for _, raw := range []string{"", "abc", "0", "-4", "1.5"} {
		_, err := ParseID("bookID", raw)
		assert.ErrorIs(t, err, model.ErrValidation, "raw=%q", raw)
	}
}
