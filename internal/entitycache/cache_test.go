package entitycache

import (
	"encoding/json"
	"sync"
	"testing"

	"loopline/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patch(t *testing.T, raw string) models.PostPatch {
	t.Helper()
	var p models.PostPatch
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func seeded() *Cache {
	c := New()
	c.Upsert(models.Post{
		ID:           1,
		Author:       models.Author{ID: 10, Username: "ada"},
		Content:      "first",
		LikeCount:    2,
		CommentCount: 1,
		Poll:         &models.Poll{ID: 5, Options: []models.PollOption{{ID: 1, Text: "a"}}},
	}, models.Post{ID: 2, Content: "second"})
	return c
}

func snapshot(c *Cache) []models.Post {
	return c.GetByIDs([]int64{1, 2, 3})
}

func TestUpsertMany_Idempotent(t *testing.T) {
	t.Parallel()

	patches := []string{
		`{"id":1,"like_count":7}`,
		`{"id":3,"content":"new","comment_count":4}`,
		`{"id":2,"title":null,"is_saved":true}`,
	}
	for _, raw := range patches {
		once := seeded()
		once.UpsertMany([]models.PostPatch{patch(t, raw)})
		twice := seeded()
		twice.UpsertMany([]models.PostPatch{patch(t, raw)})
		twice.UpsertMany([]models.PostPatch{patch(t, raw)})

		if diff := cmp.Diff(snapshot(once), snapshot(twice)); diff != "" {
			t.Errorf("applying %s twice changed state (-once +twice):\n%s", raw, diff)
		}
	}
}

func TestUpsertMany_PreservesAbsentFields(t *testing.T) {
	t.Parallel()

	c := seeded()
	before, _ := c.GetByID(1)
	c.UpsertMany([]models.PostPatch{patch(t, `{"id":1,"comment_count":2}`)})
	after, ok := c.GetByID(1)
	require.True(t, ok)

	want := before
	want.CommentCount = 2
	if diff := cmp.Diff(want, after); diff != "" {
		t.Errorf("unexpected post (-want +got):\n%s", diff)
	}
}

func TestUpsertManyAt_DropsStaleWrites(t *testing.T) {
	t.Parallel()

	c := seeded()
	requestStamp := c.NextStamp()

	_, _, ok := c.Mutate(1, func(p *models.Post) {
		p.IsLiked = true
		p.LikeCount++
	})
	require.True(t, ok)

	applied := c.UpsertManyAt(requestStamp, []models.PostPatch{patch(t, `{"id":1,"like_count":2,"content":"first"}`)})
	assert.Equal(t, 0, applied)

	post, _ := c.GetByID(1)
	assert.True(t, post.IsLiked)
	assert.Equal(t, 3, post.LikeCount)
}

func TestRestoreAt(t *testing.T) {
	t.Parallel()

	t.Run("rolls back when untouched", func(t *testing.T) {
		c := seeded()
		snap, stamp, ok := c.Mutate(1, func(p *models.Post) { p.IsSaved = true })
		require.True(t, ok)
		assert.True(t, c.RestoreAt(stamp, snap))
		post, _ := c.GetByID(1)
		assert.False(t, post.IsSaved)
	})

	t.Run("keeps newer write", func(t *testing.T) {
		c := seeded()
		snap, stamp, _ := c.Mutate(1, func(p *models.Post) { p.IsSaved = true })
		c.UpsertMany([]models.PostPatch{patch(t, `{"id":1,"like_count":40}`)})
		assert.False(t, c.RestoreAt(stamp, snap))
		post, _ := c.GetByID(1)
		assert.True(t, post.IsSaved)
		assert.Equal(t, 40, post.LikeCount)
	})
}

func TestReplacePollSnapshot(t *testing.T) {
	t.Parallel()

	c := seeded()
	vote := int64(2)
	poll := &models.Poll{ID: 5, Options: []models.PollOption{{ID: 1, Text: "a"}, {ID: 2, Text: "b", VoteCount: 1}}, TotalVotes: 1, UserVote: &vote}

	assert.True(t, c.ReplacePollSnapshot(1, poll))
	assert.False(t, c.ReplacePollSnapshot(99, poll), "absent entity is a no-op")
	assert.False(t, c.Has(99))

	poll.Options[0].Text = "mutated by caller"
	post, _ := c.GetByID(1)
	assert.Equal(t, "a", post.Poll.Options[0].Text)
	assert.Equal(t, int64(2), *post.Poll.UserVote)
	assert.Equal(t, "first", post.Content)
}

func TestRemove_Tombstones(t *testing.T) {
	t.Parallel()

	c := seeded()
	inflight := c.NextStamp()
	c.Remove(1)

	_, ok := c.GetByID(1)
	assert.False(t, ok)
	assert.Equal(t, 0, c.UpsertManyAt(inflight, []models.PostPatch{{ID: 1}}), "response issued before removal")
	assert.False(t, c.Has(1))

	assert.Equal(t, 1, c.Upsert(models.Post{ID: 1, Content: "again"}))
	assert.True(t, c.Has(1))
}

func TestGetByIDs_SkipsMissingKeepsOrder(t *testing.T) {
	t.Parallel()

	c := seeded()
	got := c.GetByIDs([]int64{2, 42, 1})
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Equal(t, int64(1), got[1].ID)
	assert.Empty(t, c.GetByIDs(nil))
}

func TestAdjustCommentCount_Floor(t *testing.T) {
	t.Parallel()

	c := seeded()
	assert.True(t, c.AdjustCommentCount(1, 1))
	post, _ := c.GetByID(1)
	assert.Equal(t, 2, post.CommentCount)

	c.AdjustCommentCount(1, -5)
	post, _ = c.GetByID(1)
	assert.Equal(t, 0, post.CommentCount)
	assert.False(t, c.AdjustCommentCount(77, 1))
}

func TestReset_DropsInflightWrites(t *testing.T) {
	t.Parallel()

	c := seeded()
	inflight := c.NextStamp()
	c.Reset()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.UpsertManyAt(inflight, []models.PostPatch{{ID: 9}}))
	assert.Equal(t, 0, c.Len())
}

func TestCache_ConcurrentWriters(t *testing.T) {
	t.Parallel()

	c := seeded()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.AdjustCommentCount(2, 1)
		}()
		go func() {
			defer wg.Done()
			c.UpsertMany([]models.PostPatch{{ID: 2, LikeCount: models.Some(3)}})
		}()
	}
	wg.Wait()

	post, _ := c.GetByID(2)
	assert.Equal(t, 50, post.CommentCount)
	assert.Equal(t, 3, post.LikeCount)
}
