package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserComplete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user *User
		want bool
	}{
		{"nil user", nil, false},
		{"missing id", &User{Email: "a@b.c", DisplayName: "A"}, false},
		{"missing email", &User{ID: "u1", DisplayName: "A"}, false},
		{"blank display name", &User{ID: "u1", Email: "a@b.c", DisplayName: "  "}, false},
		{"complete", &User{ID: "u1", Email: "a@b.c", DisplayName: "A"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.user.Complete())
		})
	}
}

func TestSessionAuthenticated(t *testing.T) {
	t.Parallel()

	user := &User{ID: "u1", Email: "a@b.c", DisplayName: "A"}

	require.False(t, Session{}.Authenticated())
	require.False(t, Session{User: user}.Authenticated())
	require.False(t, Session{Tokens: Tokens{AccessToken: "at"}}.Authenticated())
	require.True(t, Session{User: user, Tokens: Tokens{AccessToken: "at"}}.Authenticated())
}
