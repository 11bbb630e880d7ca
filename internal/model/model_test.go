package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func TestPairKeyIgnoresOrder(t *testing.T) {
	svc := "svc-9"
	assert.Equal(t, PairKey("a", "b", nil), PairKey("b", "a", nil))
	assert.Equal(t, PairKey("a", "b", &svc), PairKey("b", "a", &svc))
	assert.NotEqual(t, PairKey("a", "b", nil), PairKey("a", "b", &svc))
	empty := ""
	assert.NotEqual(t, PairKey("a", "b", nil), PairKey("a", "b", &empty))
}

func TestPairKeySeparatorsInIDs(t *testing.T) {
	assert.NotEqual(t, PairKey("x", "y|z", nil), PairKey("x|y", "z", nil))
	scoped := "b|c"
	assert.NotEqual(t, PairKey("a", "b", &scoped), PairKey("a", "b|b", nil))
	assert.NotEqual(t, PairKey(`a","b`, "c", nil), PairKey("a", `b","c`, nil))
}

func TestSameService(t *testing.T) {
	x, y, x2 := "x", "y", "x"
	assert.True(t, SameService(nil, nil))
	assert.True(t, SameService(&x, &x2))
	assert.False(t, SameService(&x, &y))
	assert.False(t, SameService(&x, nil))
}

func TestActivityAt(t *testing.T) {
	c := Chat{CreatedAt: at}
	assert.Equal(t, at, c.ActivityAt())
	later := at.Add(time.Hour)
	c.LastMessageAt = &later
	assert.Equal(t, later, c.ActivityAt())
}

func TestNewMessageValidation(t *testing.T) {
	sender := "u-1"

	_, err := NewMessage("m", "c", &sender, Text{Body: "   "}, at)
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = NewMessage("m", "c", &sender, Text{Body: strings.Repeat("я", MaxContentLength+1)}, at)
	assert.ErrorIs(t, err, ErrContentTooLong)

	_, err = NewMessage("m", "c", &sender, Image{}, at)
	assert.ErrorIs(t, err, ErrMissingFileURL)

	_, err = NewMessage("m", "c", &sender, nil, at)
	assert.ErrorIs(t, err, ErrUnknownContentType)

	m, err := NewMessage("m", "c", &sender, Text{Body: strings.Repeat("я", MaxContentLength)}, at)
	require.NoError(t, err)
	assert.False(t, m.IsRead)
	assert.Equal(t, ContentTypeText, m.ContentType)

	bad := &Message{ContentType: "sticker"}
	assert.ErrorIs(t, bad.Validate(), ErrUnknownContentType)
}

func TestPayloadRecoveredFromRow(t *testing.T) {
	meta := json.RawMessage(`{"lat":55.75,"lng":37.61}`)
	file := File{URL: "chats/c/c_1.mp4", Name: "clip.mp4", Size: 2048}
	for _, p := range []Payload{
		Text{Body: "hi"},
		Image{File: file, ThumbnailURL: "chats/c/thumb.jpg", Caption: "look"},
		Video{File: file, Duration: 12},
		Audio{File: file, Duration: 3, Caption: "voice"},
		Document{File: file},
		Location{URL: "geo:55.75,37.61", Metadata: meta},
		Link{URL: "https://market.example/s/1", Caption: "see"},
	} {
		t.Run(string(p.ContentType()), func(t *testing.T) {
			m, err := NewMessage("m", "c", nil, p, at)
			require.NoError(t, err)
			got, err := m.Payload()
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestPreview(t *testing.T) {
	sender := "u-1"
	m, err := NewMessage("m", "c", &sender, Document{File: File{URL: "chats/c/x.pdf"}}, at)
	require.NoError(t, err)
	p := m.Preview()
	assert.Equal(t, "m", p.MessageID)
	assert.Equal(t, ContentTypeDocument, p.ContentType)
	assert.Empty(t, p.Content)
}

func TestContentTypeKinds(t *testing.T) {
	assert.True(t, ContentTypeAudio.IsAttachment())
	assert.False(t, ContentTypeLink.IsAttachment())
	assert.True(t, ContentTypeLink.Valid())
	assert.False(t, ContentType("voice").Valid())
}

func TestIdentityIsAdmin(t *testing.T) {
	assert.True(t, Identity{Role: RoleAdmin}.IsAdmin())
	assert.False(t, Identity{Role: RoleUser}.IsAdmin())
}
