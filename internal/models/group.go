package models

import "time"

// PrivacyLevel controls how a group is joined.
type PrivacyLevel string

const (
	// PrivacyPublic groups are joined immediately.
	PrivacyPublic PrivacyLevel = "public"
	// PrivacyPrivate groups require an approved join request.
	PrivacyPrivate PrivacyLevel = "private"
)

// Join outcomes reported by POST /groups/{slug}/membership/.
const (
	JoinStatusJoined      = "joined"
	JoinStatusRequestSent = "request_sent"
)

// Request review actions accepted by PATCH /groups/{slug}/requests/{id}/.
const (
	RequestActionApprove = "approve"
	RequestActionDeny    = "deny"
)

// Group is a community space. MemberCount and IsMember reflect the last
// confirmed server response.
type Group struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Slug         string       `json:"slug"`
	Description  string       `json:"description"`
	Creator      Author       `json:"creator"`
	MemberCount  int          `json:"member_count"`
	IsMember     bool         `json:"is_member"`
	HasRequested bool         `json:"has_requested,omitempty"`
	PrivacyLevel PrivacyLevel `json:"privacy_level"`
	CreatedAt    time.Time    `json:"created_at"`
}

// IsCreator reports whether userID created the group.
func (g Group) IsCreator(userID int64) bool {
	return userID != 0 && g.Creator.ID == userID
}

// NewGroup is the input for creating a group.
type NewGroup struct {
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	PrivacyLevel PrivacyLevel `json:"privacy_level"`
}

// JoinResult is the body returned when joining a group.
type JoinResult struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// JoinRequest is a pending request to join a private group.
type JoinRequest struct {
	ID        int64     `json:"id"`
	User      Author    `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
}
