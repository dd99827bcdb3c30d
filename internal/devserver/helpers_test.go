package devserver

import (
	"encoding/base64"
	"strings"
	"testing"

	"loopline/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint(42), decodeCursor(encodeCursor(42)))

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"not base64", "%%%"},
		{"wrong prefix", "eDo0Mg=="},
		{"not a number", base64.URLEncoding.EncodeToString([]byte("id:abc"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Zero(t, decodeCursor(tt.raw))
		})
	}
}

func TestSlugify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Go Fans!", "go-fans"},
		{"  Weekend  Hikers ", "weekend-hikers"},
		{"???", "group"},
		{"E2E-1700000000", "e2e-1700000000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slugify(tt.in), tt.in)
	}
	assert.LessOrEqual(t, len(slugify(strings.Repeat("ab ", 80))), 100)
}

func TestExcerpt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "short", excerpt("  short  "))
	long := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50)+"...", excerpt(long))
}

func TestEscapeLike(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `user\_`, escapeLike("user_"))
	assert.Equal(t, `100\%`, escapeLike("100%"))
	assert.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func TestPostInputValidate(t *testing.T) {
	t.Parallel()
	empty := postInput{}
	assert.Error(t, empty.validate())

	text := postInput{Content: "hi"}
	assert.NoError(t, text.validate())

	files := postInput{Files: []fileInput{{Filename: "a.png"}}}
	assert.NoError(t, files.validate(), "files alone are enough")

	poll := postInput{Poll: &models.NewPoll{Question: " Tea? ", Options: []string{"yes", " ", "no "}}}
	assert.NoError(t, poll.validate())
	assert.Equal(t, "Tea?", poll.Poll.Question)
	assert.Equal(t, []string{"yes", "no"}, poll.Poll.Options)
}
