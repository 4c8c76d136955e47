// Package tokens holds the gateway's access/refresh token pair.
//
// A Store owns the in-memory pair, loads it lazily from a durable Persistence on first
// access, and coalesces concurrent refreshes so that at most one refresh call reaches
// the backend at a time. Persistence backends are provided for memory, a JSON file,
// and redis.
package tokens
