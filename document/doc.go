// Package document defines the parse-event stream consumed by handlers and
// the reference XML reader and encoder that produce and consume it.
package document
