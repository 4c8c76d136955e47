// Package domain defines the core types shared by the taskgate gateway.
//
// This package contains pure domain types with ZERO external dependencies outside the
// Go standard library. Resource routes, token pairs, outbound requests, and the error
// taxonomy live here so that the resolver, token store, executor, and handler factory
// can agree on them without importing each other.
//
// The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
