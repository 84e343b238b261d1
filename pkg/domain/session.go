package domain

import "time"

// Tokens is the credential pair held by a session. ExpiresAt is zero when the
// expiry is unknown.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Empty reports whether no access token is present.
func (t Tokens) Empty() bool { return t.AccessToken == "" }

// Session is the in-memory authentication state of the client.
type Session struct {
	User *User
	Tokens
}

// Authenticated holds iff both a user and an access token are present.
func (s Session) Authenticated() bool {
	return s.User != nil && s.AccessToken != ""
}
