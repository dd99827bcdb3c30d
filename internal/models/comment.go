package models

import (
	"fmt"
	"time"
)

// Comment belongs to exactly one parent post.
type Comment struct {
	ID        int64     `json:"id"`
	Author    Author    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CommentTarget addresses the object a comment thread hangs off. PostID is
// the feed entity whose comment counter the thread drives.
type CommentTarget struct {
	Type     string
	ObjectID int64
	PostID   int64
}

// Key is the "{type}_{objectId}" thread key.
func (t CommentTarget) Key() string {
	return fmt.Sprintf("%s_%d", t.Type, t.ObjectID)
}

// Report reasons accepted by the moderation endpoint.
const (
	ReportSpam           = "spam"
	ReportHarassment     = "harassment"
	ReportInappropriate  = "inappropriate"
	ReportMisinformation = "misinformation"
	ReportOther          = "other"
)

// ValidReportReason reports whether reason is accepted by the server.
func ValidReportReason(reason string) bool {
	switch reason {
	case ReportSpam, ReportHarassment, ReportInappropriate, ReportMisinformation, ReportOther:
		return true
	}
	return false
}

// Report is the body of a content report.
type Report struct {
	Reason  string `json:"reason"`
	Details string `json:"details,omitempty"`
}
