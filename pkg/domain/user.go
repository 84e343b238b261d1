package domain

import "strings"

// User is the profile of the authenticated PalPalette user as returned by the
// auth endpoints and persisted next to the tokens.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// Complete reports whether every field required to adopt the user into a
// session is present.
func (u *User) Complete() bool {
	if u == nil {
		return false
	}
	return strings.TrimSpace(u.ID) != "" &&
		strings.TrimSpace(u.Email) != "" &&
		strings.TrimSpace(u.DisplayName) != ""
}
