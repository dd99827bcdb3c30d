package models

import "time"

// Notification types emitted by the server.
const (
	NotificationFollow          = "follow"
	NotificationLike            = "like"
	NotificationComment         = "comment"
	NotificationGroupJoinReq    = "group_join_request"
	NotificationGroupJoinAccept = "group_join_approved"
)

// ObjectRef is the generic "kind + id + display text" reference used by
// notification targets and action objects.
type ObjectRef struct {
	Type        string `json:"type"`
	ID          int64  `json:"id"`
	DisplayText string `json:"display_text"`
	ObjectID    *int64 `json:"object_id,omitempty"`
}

// Notification is created server-side; the client only flips IsRead.
type Notification struct {
	ID               int64      `json:"id"`
	Actor            Author     `json:"actor"`
	Verb             string     `json:"verb"`
	NotificationType string     `json:"notification_type"`
	Target           *ObjectRef `json:"target"`
	ActionObject     *ObjectRef `json:"action_object"`
	Timestamp        time.Time  `json:"timestamp"`
	IsRead           bool       `json:"is_read"`
}

// UnreadCount is the body of /notifications/unread-count/.
type UnreadCount struct {
	UnreadCount int `json:"unread_count"`
}
