// Package interceptor attaches the stored access token to outgoing requests
// and recovers from 401 responses by refreshing the token once per wave.
//
// When several requests fail with 401 at the same time, the first one runs
// the registered RefreshFunc and the others wait for its outcome. All of them
// either retry with the new token or receive their original 401. A retried
// request is never refreshed again: a second 401 goes back to the caller.
package interceptor
