// Package gateway turns resource routes into HTTP handlers that forward client
// requests to the backend REST API.
//
// A Factory builds one handler per supported verb for each route. Every
// handler resolves the route's path template against the inbound route
// parameters, dispatches through an authenticated executor, and either
// re-emits the backend response unchanged or answers with a single
// NormalizedError document.
package gateway
