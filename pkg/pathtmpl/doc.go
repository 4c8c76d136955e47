// Package pathtmpl binds route parameters into backend resource path templates.
//
// Templates mark parameters with braces ("/projects/{id}") or square brackets
// ("/projects/[id]"); both forms are equivalent. Parameter values are path-escaped one
// by one, literal template text is copied untouched, and the remaining query entries are
// appended in the order they were received.
package pathtmpl
