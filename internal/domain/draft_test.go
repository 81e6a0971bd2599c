package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDraftNormalize(t *testing.T) {
	tests := []struct {
		name    string
		draft   Draft
		kind    MessageKind
		wantErr error
	}{
		{name: "text", draft: Draft{Body: "hi"}, kind: KindText},
		{name: "media defaults to image", draft: Draft{MediaURL: "https://cdn/x.png"}, kind: KindImage},
		{name: "caption with image", draft: Draft{Body: "look", MediaURL: "https://cdn/x.png"}, kind: KindImage},
		{name: "explicit text with media", draft: Draft{Body: "link", MediaURL: "https://cdn/x.png", Kind: KindText}, kind: KindText},
		{name: "empty", draft: Draft{}, wantErr: ErrEmptyMessage},
		{name: "whitespace only", draft: Draft{Body: "  \n\t", MediaURL: " "}, wantErr: ErrEmptyMessage},
		{name: "unknown kind", draft: Draft{Body: "x", Kind: "video"}, wantErr: ErrInvalidInput},
		{name: "image without media", draft: Draft{Body: "x", Kind: KindImage}, wantErr: ErrInvalidInput},
		{name: "too long", draft: Draft{Body: strings.Repeat("a", MaxBodyRunes+1)}, wantErr: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.draft.Normalize()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
		})
	}
}

func TestDraftMessage(t *testing.T) {
	m := Draft{Body: "hi", Kind: KindText}.Message("c1", "u1")
	assert.Equal(t, "c1", m.ConversationID)
	assert.Equal(t, "u1", m.SenderID)
	assert.Nil(t, m.MediaURL)

	m = Draft{MediaURL: "https://cdn/x.png", Kind: KindImage}.Message("c1", "u1")
	require.NotNil(t, m.MediaURL)
	assert.True(t, m.HasMedia())
}
