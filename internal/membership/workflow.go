// Package membership drives joining, leaving, request review and ownership
// transfer for groups. It decides which call a leave turns into before any
// call is made; the group container only records confirmed results.
package membership

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"loopline/internal/models"
	"loopline/internal/observability"
	"loopline/internal/store"
)

// Outcome is the end state of one workflow step.
type Outcome int

const (
	OutcomeJoined Outcome = iota + 1
	OutcomeRequested
	OutcomeLeft
	OutcomeDeleted
	OutcomeCancelled
	OutcomeTransferRequired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeJoined:
		return "joined"
	case OutcomeRequested:
		return "requested"
	case OutcomeLeft:
		return "left"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTransferRequired:
		return "transfer_required"
	default:
		return "unknown"
	}
}

// Result of a workflow step. Candidates is set for OutcomeTransferRequired.
type Result struct {
	Outcome    Outcome
	Group      models.Group
	Candidates []models.Author
}

// Confirmer asks the user to approve deleting a group.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, g models.Group) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, g models.Group) (bool, error)

func (f ConfirmFunc) ConfirmDelete(ctx context.Context, g models.Group) (bool, error) {
	return f(ctx, g)
}

// Viewer identifies the signed-in user.
type Viewer interface {
	UserID() int64
}

// Groups is the part of the group container the workflow updates.
type Groups interface {
	Lookup(slug string) (models.Group, bool)
	Detail(ctx context.Context, slug string) (models.Group, error)
	Members(ctx context.Context, slug string) ([]models.Author, error)
	ApplyJoined(slug string)
	ApplyRequested(slug string)
	ApplyLeft(slug string)
	ApplyMemberAdded(slug string)
	Replace(g models.Group)
	RemoveGroup(slug string)
}

// Workflow runs membership actions. One action per group runs at a time;
// a second action on the same group fails with models.ErrBusy.
type Workflow struct {
	api     store.API
	groups  Groups
	viewer  Viewer
	confirm Confirmer
	log     *observability.StoreLogger

	mu       sync.Mutex
	busy     map[string]bool
	requests map[string][]models.JoinRequest
}

func New(api store.API, groups Groups, viewer Viewer, confirm Confirmer) *Workflow {
	return &Workflow{
		api:      api,
		groups:   groups,
		viewer:   viewer,
		confirm:  confirm,
		log:      observability.NewStoreLogger("membership"),
		busy:     make(map[string]bool),
		requests: make(map[string][]models.JoinRequest),
	}
}

func (w *Workflow) acquire(slug string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy[slug] {
		return fmt.Errorf("group %s: %w", slug, models.ErrBusy)
	}
	w.busy[slug] = true
	return nil
}

func (w *Workflow) release(slug string) {
	w.mu.Lock()
	delete(w.busy, slug)
	w.mu.Unlock()
}

func (w *Workflow) guard(ctx context.Context, slug, action string, fn func() (Result, error)) (Result, error) {
	if err := w.acquire(slug); err != nil {
		return Result{}, err
	}
	defer w.release(slug)
	res, err := fn()
	if err != nil {
		w.log.LogError(ctx, err, action)
		return res, err
	}
	w.log.LogAction(ctx, action, map[string]interface{}{"group": slug, "outcome": res.Outcome.String()})
	return res, nil
}

func (w *Workflow) group(ctx context.Context, slug string) (models.Group, error) {
	if g, ok := w.groups.Lookup(slug); ok {
		return g, nil
	}
	return w.groups.Detail(ctx, slug)
}

// Join joins a public group or files a request for a private one.
func (w *Workflow) Join(ctx context.Context, slug string) (Result, error) {
	return w.guard(ctx, slug, "join", func() (Result, error) {
		var resp models.JoinResult
		if err := w.api.Post(ctx, membershipPath(slug), nil, &resp); err != nil {
			return Result{}, err
		}
		switch resp.Status {
		case models.JoinStatusJoined:
			w.groups.ApplyJoined(slug)
			return w.result(OutcomeJoined, slug), nil
		case models.JoinStatusRequestSent:
			w.groups.ApplyRequested(slug)
			return w.result(OutcomeRequested, slug), nil
		default:
			return Result{}, models.NewMalformedError(fmt.Sprintf("unexpected join status %q", resp.Status), nil)
		}
	})
}

// Leave leaves a group. A creator who is the only member is asked to
// confirm, and the group is deleted instead. A creator with other members
// gets OutcomeTransferRequired and nothing is sent.
func (w *Workflow) Leave(ctx context.Context, slug string) (Result, error) {
	return w.guard(ctx, slug, "leave", func() (Result, error) {
		g, err := w.group(ctx, slug)
		if err != nil {
			return Result{}, err
		}
		if !g.IsCreator(w.viewer.UserID()) {
			if !g.IsMember {
				return Result{}, models.NewValidationError("You are not a member of this group.", nil)
			}
			if err := w.api.Delete(ctx, membershipPath(slug), nil); err != nil {
				return Result{}, err
			}
			w.groups.ApplyLeft(slug)
			return w.result(OutcomeLeft, slug), nil
		}

		if g.MemberCount <= 1 {
			return w.deleteGroup(ctx, g)
		}

		members, err := w.groups.Members(ctx, slug)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeTransferRequired, Group: g, Candidates: w.candidates(members)}, nil
	})
}

func (w *Workflow) deleteGroup(ctx context.Context, g models.Group) (Result, error) {
	ok, err := w.confirm.ConfirmDelete(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Outcome: OutcomeCancelled, Group: g}, nil
	}
	if err := w.api.Delete(ctx, groupPath(g.Slug), nil); err != nil {
		return Result{}, err
	}
	w.groups.RemoveGroup(g.Slug)
	w.mu.Lock()
	delete(w.requests, g.Slug)
	w.mu.Unlock()
	return Result{Outcome: OutcomeDeleted, Group: g}, nil
}

func (w *Workflow) candidates(members []models.Author) []models.Author {
	self := w.viewer.UserID()
	out := make([]models.Author, 0, len(members))
	for _, m := range members {
		if m.ID != self {
			out = append(out, m)
		}
	}
	return out
}

// TransferAndLeave hands the group to newOwner and then leaves it.
func (w *Workflow) TransferAndLeave(ctx context.Context, slug string, newOwner models.Author) (Result, error) {
	return w.guard(ctx, slug, "transfer", func() (Result, error) {
		g, err := w.group(ctx, slug)
		if err != nil {
			return Result{}, err
		}
		self := w.viewer.UserID()
		if !g.IsCreator(self) {
			return Result{}, models.NewForbiddenError("Only the group creator can transfer ownership.")
		}
		if newOwner.ID == 0 || newOwner.ID == self {
			return Result{}, models.NewValidationError("You cannot transfer ownership to yourself.", map[string][]string{
				"new_owner_id": {"Choose another member."},
			})
		}

		body := map[string]int64{"new_owner_id": newOwner.ID}
		if err := w.api.Post(ctx, groupPath(slug)+"transfer-ownership/", body, nil); err != nil {
			return Result{}, err
		}
		g.Creator = newOwner
		w.groups.Replace(g)

		if err := w.api.Delete(ctx, membershipPath(slug), nil); err != nil {
			return Result{}, fmt.Errorf("ownership transferred but leave failed: %w", err)
		}
		w.groups.ApplyLeft(slug)
		return w.result(OutcomeLeft, slug), nil
	})
}

// LoadRequests fetches the pending join requests of a group.
func (w *Workflow) LoadRequests(ctx context.Context, slug string) ([]models.JoinRequest, error) {
	var resp models.Page[models.JoinRequest]
	if err := w.api.Get(ctx, groupPath(slug)+"requests/", nil, &resp); err != nil {
		w.log.LogError(ctx, err, "load_requests")
		return nil, err
	}
	w.mu.Lock()
	w.requests[slug] = resp.Results
	w.mu.Unlock()
	return w.Requests(slug), nil
}

// Requests returns the cached queue for slug.
func (w *Workflow) Requests(slug string) []models.JoinRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.JoinRequest(nil), w.requests[slug]...)
}

// Approve admits the requester and drops the request from the queue.
func (w *Workflow) Approve(ctx context.Context, slug string, requestID int64) error {
	_, err := w.guard(ctx, slug, "approve", func() (Result, error) {
		if err := w.review(ctx, slug, requestID, models.RequestActionApprove); err != nil {
			return Result{}, err
		}
		w.groups.ApplyMemberAdded(slug)
		return w.result(OutcomeJoined, slug), nil
	})
	return err
}

// Deny rejects the request and drops it from the queue.
func (w *Workflow) Deny(ctx context.Context, slug string, requestID int64) error {
	_, err := w.guard(ctx, slug, "deny", func() (Result, error) {
		if err := w.review(ctx, slug, requestID, models.RequestActionDeny); err != nil {
			return Result{}, err
		}
		return w.result(OutcomeCancelled, slug), nil
	})
	return err
}

func (w *Workflow) review(ctx context.Context, slug string, requestID int64, action string) error {
	path := fmt.Sprintf("%srequests/%d/", groupPath(slug), requestID)
	if err := w.api.Patch(ctx, path, map[string]string{"action": action}, nil); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	queue := w.requests[slug]
	out := queue[:0:0]
	for _, r := range queue {
		if r.ID != requestID {
			out = append(out, r)
		}
	}
	w.requests[slug] = out
	return nil
}

func (w *Workflow) result(o Outcome, slug string) Result {
	g, _ := w.groups.Lookup(slug)
	return Result{Outcome: o, Group: g}
}

// Reset forgets every cached request queue.
func (w *Workflow) Reset() {
	w.mu.Lock()
	w.requests = make(map[string][]models.JoinRequest)
	w.mu.Unlock()
}

func groupPath(slug string) string {
	return fmt.Sprintf("/groups/%s/", url.PathEscape(slug))
}

func membershipPath(slug string) string {
	return groupPath(slug) + "membership/"
}
