package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePost() Post {
	vote := int64(2)
	return Post{
		ID:           7,
		PostType:     PostTypeStatus,
		Author:       Author{ID: 1, Username: "ada"},
		Title:        "hello",
		Content:      "world",
		Media:        []Media{{ID: 3, MediaType: MediaTypeImage, FileURL: "/m/3.jpg"}},
		Poll:         &Poll{ID: 9, Question: "tea?", Options: []PollOption{{ID: 1, Text: "yes"}, {ID: 2, Text: "no", VoteCount: 1}}, TotalVotes: 1, UserVote: &vote},
		LikeCount:    4,
		CommentCount: 2,
		IsLiked:      true,
	}
}

func TestPostPatch_DecodeTracksPresence(t *testing.T) {
	var patch PostPatch
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"like_count":5,"title":null}`), &patch))

	assert.Equal(t, int64(7), patch.ID)
	assert.True(t, patch.LikeCount.Set)
	assert.Equal(t, 5, patch.LikeCount.Value)
	assert.True(t, patch.Title.Set, "explicit null counts as present")
	assert.Nil(t, patch.Title.Value)
	assert.False(t, patch.Content.Set)
	assert.False(t, patch.Poll.Set)
}

func TestPost_MergePreservesAbsentFields(t *testing.T) {
	t.Parallel()

	post := samplePost()
	var patch PostPatch
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"comment_count":3}`), &patch))

	post.Merge(patch)

	want := samplePost()
	want.CommentCount = 3
	assert.Equal(t, want, post)
}

func TestPost_MergeIsIdempotent(t *testing.T) {
	t.Parallel()

	var patch PostPatch
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"like_count":10,"is_liked_by_user":false,"poll":null}`), &patch))

	once := samplePost()
	once.Merge(patch)
	twice := samplePost()
	twice.Merge(patch)
	twice.Merge(patch)

	assert.Equal(t, once, twice)
	assert.Nil(t, once.Poll)
}

func TestPost_CloneSharesNothing(t *testing.T) {
	t.Parallel()

	post := samplePost()
	clone := post.Clone()
	clone.Media[0].FileURL = "changed"
	clone.Poll.Options[0].VoteCount = 99
	*clone.Poll.UserVote = 1

	assert.Equal(t, "/m/3.jpg", post.Media[0].FileURL)
	assert.Equal(t, 0, post.Poll.Options[0].VoteCount)
	assert.Equal(t, int64(2), *post.Poll.UserVote)
}

func TestPatchFromPost_RoundTrip(t *testing.T) {
	t.Parallel()

	post := samplePost()
	var empty Post
	empty.Merge(PatchFromPost(post))
	assert.Equal(t, post, empty)

	encoded, err := json.Marshal(PostPatch{ID: 1, LikeCount: Some(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"like_count":2}`, string(encoded))
}

func TestPage_NextParam(t *testing.T) {
	t.Parallel()

	next := "http://api.test/feed/?cursor=abc%3D&page_size=20"
	page := Page[Post]{Count: 3, Next: &next}
	assert.True(t, page.HasNext())
	assert.False(t, page.HasPrevious())
	assert.Equal(t, "abc=", page.NextParam("cursor"))
	assert.Equal(t, "", Page[Post]{}.NextParam("cursor"))
}

func TestUserMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), "boom"},
		{"not found", NewNotFoundError("post", 4), "post 4 not found"},
		{"validation without fields", NewValidationError("Invalid input", nil), "Invalid input"},
		{
			"validation fields sorted",
			NewValidationError("Invalid input", map[string][]string{
				"username":         {"This field is required."},
				"non_field_errors": {"Unable to log in."},
			}),
			"Unable to log in.; username: This field is required.",
		},
		{"wrapped", fmt.Errorf("load: %w", NewAuthError("Invalid token")), "Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("feed: %w", NewTransientError(0, cause))

	assert.True(t, IsTransient(err))
	assert.False(t, IsAuth(err))
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsMalformed(NewMalformedError("bad frame", nil)))
	assert.Equal(t, KindForbidden, KindOf(NewForbiddenError("nope")))
	assert.Equal(t, ErrorKind(""), KindOf(ErrBusy))
}

func TestGroup_IsCreator(t *testing.T) {
	t.Parallel()

	g := Group{Creator: Author{ID: 5}}
	assert.True(t, g.IsCreator(5))
	assert.False(t, g.IsCreator(6))
	assert.False(t, Group{}.IsCreator(0))
}

func TestCommentTarget_Key(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "statuspost_12", CommentTarget{Type: PostTypeStatus, ObjectID: 12}.Key())
	assert.True(t, ValidReportReason(ReportSpam))
	assert.False(t, ValidReportReason("rude"))
}
