// Package upstream issues authenticated calls to the backend REST API.
//
// An Executor attaches the current access token as a bearer header and, when
// the backend answers 401, refreshes the token once through the token store
// and replays the request once. Network failures and timeouts surface as
// *domain.UnavailableError and never trigger a refresh.
package upstream
