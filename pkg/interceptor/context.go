package interceptor

import "context"

type noRefreshKey struct{}

// WithoutRefresh marks requests made with ctx so a 401 is returned without
// attempting a refresh. Login, register, refresh and logout use it to avoid
// recursing into the refresh flow.
func WithoutRefresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRefreshKey{}, true)
}

func refreshDisabled(ctx context.Context) bool {
	v, _ := ctx.Value(noRefreshKey{}).(bool)
	return v
}
