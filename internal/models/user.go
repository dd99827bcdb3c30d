// Package models contains the client-side data shapes exchanged with the Loopline API.
package models

import "time"

// User is a registered account as returned by /auth/user/ and search.
type User struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// Profile is a user's public profile.
type Profile struct {
	User           User      `json:"user"`
	DisplayName    string    `json:"display_name"`
	Headline       string    `json:"headline"`
	Bio            string    `json:"bio"`
	Location       string    `json:"location"`
	Picture        string    `json:"picture"`
	UpdatedAt      time.Time `json:"updated_at"`
	IsFollowed     bool      `json:"is_followed_by_request_user"`
	FollowersCount int       `json:"followers_count"`
	FollowingCount int       `json:"following_count"`
}

// Credentials are the login form values.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Registration is the sign-up form.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// TokenResponse is the body returned by login and registration.
type TokenResponse struct {
	Key string `json:"key"`
}
