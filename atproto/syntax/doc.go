// Package syntax provides string types for atproto identifiers.
//
// These are simple alias types for parsing and verifying protocol-level syntax of identifiers, not routines for resolution or verification against application policies.
package syntax
