package store

import (
	"context"
	"fmt"

	"loopline/internal/models"
	"loopline/internal/observability"
)

// OpReport is the content report operation.
const OpReport = "report"

// ModerationStore files content reports.
type ModerationStore struct {
	Ops
	api API
	log *observability.StoreLogger
}

func NewModerationStore(api API) *ModerationStore {
	return &ModerationStore{api: api, log: observability.NewStoreLogger("moderation")}
}

// Report flags the object identified by content type and object id.
func (s *ModerationStore) Report(ctx context.Context, contentTypeID, objectID int64, report models.Report) error {
	return s.run(ctx, s.log, OpReport, func() error {
		if !models.ValidReportReason(report.Reason) {
			return models.NewValidationError("Please choose a reason for the report.", map[string][]string{
				"reason": {fmt.Sprintf("%q is not a valid choice.", report.Reason)},
			})
		}
		return s.api.Post(ctx, fmt.Sprintf("/content/%d/%d/report/", contentTypeID, objectID), report, nil)
	})
}

// ReportPost reports a post using its content reference.
func (s *ModerationStore) ReportPost(ctx context.Context, post models.Post, report models.Report) error {
	return s.Report(ctx, post.ContentTypeID, post.ObjectID, report)
}

func (s *ModerationStore) Reset() {
	s.resetOps()
}
