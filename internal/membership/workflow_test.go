package membership

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"loopline/internal/entitycache"
	"loopline/internal/models"
	"loopline/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	method, path string
	body         any
}

// recordingAPI answers from a route table and records every call.
type recordingAPI struct {
	mu     sync.Mutex
	calls  []call
	routes map[string]func() (any, error)
}

func newAPI() *recordingAPI {
	return &recordingAPI{routes: make(map[string]func() (any, error))}
}

func (a *recordingAPI) reply(method, path string, resp any) *recordingAPI {
	a.routes[method+" "+path] = func() (any, error) { return resp, nil }
	return a
}

func (a *recordingAPI) handle(method, path string, fn func() (any, error)) *recordingAPI {
	a.routes[method+" "+path] = fn
	return a
}

func (a *recordingAPI) methods() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.method+" "+c.path)
	}
	return out
}

func (a *recordingAPI) do(method, path string, body, out any) error {
	a.mu.Lock()
	a.calls = append(a.calls, call{method, path, body})
	fn, ok := a.routes[method+" "+path]
	a.mu.Unlock()
	if !ok {
		return models.NewNotFoundError("route", method+" "+path)
	}
	resp, err := fn()
	if err != nil || out == nil || resp == nil {
		return err
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (a *recordingAPI) Get(_ context.Context, path string, _ url.Values, out any) error {
	return a.do("GET", path, nil, out)
}
func (a *recordingAPI) Post(_ context.Context, path string, body, out any) error {
	return a.do("POST", path, body, out)
}
func (a *recordingAPI) Put(_ context.Context, path string, body, out any) error {
	return a.do("PUT", path, body, out)
}
func (a *recordingAPI) Patch(_ context.Context, path string, body, out any) error {
	return a.do("PATCH", path, body, out)
}
func (a *recordingAPI) Delete(_ context.Context, path string, out any) error {
	return a.do("DELETE", path, nil, out)
}
func (a *recordingAPI) Upload(_ context.Context, method, path string, fields map[string]string, _ []models.Upload, out any) error {
	return a.do(method, path, fields, out)
}

type viewer int64

func (v viewer) UserID() int64 { return int64(v) }

func confirmWith(answer bool, asked *int) ConfirmFunc {
	return func(context.Context, models.Group) (bool, error) {
		*asked++
		return answer, nil
	}
}

const me = viewer(1)

func setup(t *testing.T, api *recordingAPI, groups ...models.Group) *store.GroupStore {
	t.Helper()
	api.reply("GET", "/groups/", models.Page[models.Group]{Count: len(groups), Results: groups})
	gs := store.NewGroupStore(api, entitycache.New())
	require.NoError(t, gs.List(context.Background(), 1))
	api.mu.Lock()
	api.calls = nil
	api.mu.Unlock()
	return gs
}

func TestLeave_SoleOwnerDeletesGroup(t *testing.T) {
	t.Parallel()

	api := newAPI().reply("DELETE", "/groups/solo/", nil)
	gs := setup(t, api,
		models.Group{Slug: "solo", Creator: models.Author{ID: 1}, MemberCount: 1, IsMember: true},
		models.Group{Slug: "other", MemberCount: 4})
	asked := 0
	w := New(api, gs, me, confirmWith(true, &asked))

	res, err := w.Leave(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.Equal(t, 1, asked)
	assert.Equal(t, []string{"DELETE /groups/solo/"}, api.methods(), "no membership delete")

	_, ok := gs.Lookup("solo")
	assert.False(t, ok)
	assert.Len(t, gs.Groups(), 1)
}

func TestLeave_SoleOwnerCancelSendsNothing(t *testing.T) {
	t.Parallel()

	api := newAPI()
	gs := setup(t, api, models.Group{Slug: "solo", Creator: models.Author{ID: 1}, MemberCount: 1, IsMember: true})
	asked := 0
	w := New(api, gs, me, confirmWith(false, &asked))

	res, err := w.Leave(context.Background(), "solo")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Empty(t, api.methods())
	_, ok := gs.Lookup("solo")
	assert.True(t, ok)
}

func TestLeave_OwnerWithMembersRequiresTransfer(t *testing.T) {
	t.Parallel()

	api := newAPI().reply("GET", "/groups/club/members/", models.Page[models.Author]{
		Count:   3,
		Results: []models.Author{{ID: 1, Username: "me"}, {ID: 2, Username: "bo"}, {ID: 3, Username: "cy"}},
	})
	gs := setup(t, api, models.Group{Slug: "club", Creator: models.Author{ID: 1}, MemberCount: 3, IsMember: true})
	asked := 0
	w := New(api, gs, me, confirmWith(true, &asked))

	res, err := w.Leave(context.Background(), "club")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransferRequired, res.Outcome)
	assert.Equal(t, 0, asked)
	assert.Equal(t, []string{"GET /groups/club/members/"}, api.methods(), "neither leave nor delete")
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "bo", res.Candidates[0].Username)

	g, _ := gs.Lookup("club")
	assert.True(t, g.IsMember)
	assert.Equal(t, 3, g.MemberCount)
}

func TestLeave_MemberLeavesDirectly(t *testing.T) {
	t.Parallel()

	api := newAPI().reply("DELETE", "/groups/club/membership/", nil)
	gs := setup(t, api, models.Group{Slug: "club", Creator: models.Author{ID: 9}, MemberCount: 3, IsMember: true})
	w := New(api, gs, me, ConfirmFunc(func(context.Context, models.Group) (bool, error) {
		t.Fatal("members are never asked to confirm")
		return false, nil
	}))

	res, err := w.Leave(context.Background(), "club")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLeft, res.Outcome)
	assert.False(t, res.Group.IsMember)
	assert.Equal(t, 2, res.Group.MemberCount)

	_, err = w.Leave(context.Background(), "club")
	assert.True(t, models.IsValidation(err))
	assert.Len(t, api.methods(), 1)
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		status        string
		want          Outcome
		wantMember    bool
		wantRequested bool
		wantCount     int
	}{
		{"public group", models.JoinStatusJoined, OutcomeJoined, true, false, 3},
		{"private group", models.JoinStatusRequestSent, OutcomeRequested, false, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI().reply("POST", "/groups/g/membership/", models.JoinResult{Status: tt.status})
			gs := setup(t, api, models.Group{Slug: "g", MemberCount: 2})
			w := New(api, gs, me, nil)

			res, err := w.Join(context.Background(), "g")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			assert.Equal(t, tt.wantMember, res.Group.IsMember)
			assert.Equal(t, tt.wantRequested, res.Group.HasRequested)
			assert.Equal(t, tt.wantCount, res.Group.MemberCount)
		})
	}

	t.Run("failure leaves group unchanged", func(t *testing.T) {
		api := newAPI().handle("POST", "/groups/g/membership/", func() (any, error) {
			return nil, models.NewTransientError(503, errors.New("down"))
		})
		gs := setup(t, api, models.Group{Slug: "g", MemberCount: 2})
		w := New(api, gs, me, nil)

		_, err := w.Join(context.Background(), "g")
		assert.True(t, models.IsTransient(err))
		g, _ := gs.Lookup("g")
		assert.False(t, g.IsMember)
		assert.Equal(t, 2, g.MemberCount)
	})

	t.Run("unknown status is malformed", func(t *testing.T) {
		api := newAPI().reply("POST", "/groups/g/membership/", models.JoinResult{Status: "maybe"})
		gs := setup(t, api, models.Group{Slug: "g"})
		w := New(api, gs, me, nil)

		_, err := w.Join(context.Background(), "g")
		assert.True(t, models.IsMalformed(err))
	})
}

func TestSameGroupActionsAreSerialized(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	api := newAPI().handle("POST", "/groups/g/membership/", func() (any, error) {
		close(entered)
		<-release
		return models.JoinResult{Status: models.JoinStatusJoined}, nil
	})
	gs := setup(t, api, models.Group{Slug: "g", MemberCount: 2})
	w := New(api, gs, me, nil)

	done := make(chan error, 1)
	go func() {
		_, err := w.Join(context.Background(), "g")
		done <- err
	}()
	<-entered

	_, err := w.Join(context.Background(), "g")
	assert.ErrorIs(t, err, models.ErrBusy)

	close(release)
	require.NoError(t, <-done)
	g, _ := gs.Lookup("g")
	assert.Equal(t, 3, g.MemberCount, "counted once")
}

func TestTransferAndLeave(t *testing.T) {
	t.Parallel()

	api := newAPI().
		reply("POST", "/groups/club/transfer-ownership/", map[string]string{"detail": "Ownership successfully transferred to bo."}).
		reply("DELETE", "/groups/club/membership/", nil)
	gs := setup(t, api, models.Group{Slug: "club", Creator: models.Author{ID: 1}, MemberCount: 2, IsMember: true})
	w := New(api, gs, me, nil)
	ctx := context.Background()

	_, err := w.TransferAndLeave(ctx, "club", models.Author{ID: 1})
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, api.methods())

	res, err := w.TransferAndLeave(ctx, "club", models.Author{ID: 2, Username: "bo"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLeft, res.Outcome)
	assert.Equal(t, []string{"POST /groups/club/transfer-ownership/", "DELETE /groups/club/membership/"}, api.methods())
	assert.Equal(t, int64(2), res.Group.Creator.ID)
	assert.False(t, res.Group.IsMember)
	assert.Equal(t, 1, res.Group.MemberCount)

	body := api.calls[0].body.(map[string]int64)
	assert.Equal(t, int64(2), body["new_owner_id"])
}

func TestReviewRequests(t *testing.T) {
	t.Parallel()

	api := newAPI().
		reply("GET", "/groups/club/requests/", models.Page[models.JoinRequest]{Count: 2, Results: []models.JoinRequest{
			{ID: 10, User: models.Author{ID: 5}},
			{ID: 11, User: models.Author{ID: 6}},
		}}).
		reply("PATCH", "/groups/club/requests/10/", nil).
		reply("PATCH", "/groups/club/requests/11/", nil)
	gs := setup(t, api, models.Group{Slug: "club", Creator: models.Author{ID: 1}, MemberCount: 1, IsMember: true})
	w := New(api, gs, me, nil)
	ctx := context.Background()

	reqs, err := w.LoadRequests(ctx, "club")
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	require.NoError(t, w.Approve(ctx, "club", 10))
	require.Len(t, w.Requests("club"), 1)
	assert.Equal(t, int64(11), w.Requests("club")[0].ID)
	g, _ := gs.Lookup("club")
	assert.Equal(t, 2, g.MemberCount)

	require.NoError(t, w.Deny(ctx, "club", 11))
	assert.Empty(t, w.Requests("club"))
	g, _ = gs.Lookup("club")
	assert.Equal(t, 2, g.MemberCount, "deny adds nobody")

	assert.Equal(t, map[string]string{"action": "approve"}, api.calls[1].body)
	assert.Equal(t, map[string]string{"action": "deny"}, api.calls[2].body)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "transfer_required", OutcomeTransferRequired.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
