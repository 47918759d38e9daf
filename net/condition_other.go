//go:build !unix

package net

// Only the portable sentinel errors are classified on these platforms.
var (
	invalidErrnos []error
	hangupErrnos  []error
	errorErrnos   []error
)
