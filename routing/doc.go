// Package routing selects the mailbox that should receive an inbound
// message.
//
// A routing decision is a pure function of the envelope recipient, the
// client's network identity (HELO hostname and IP address), the parsed
// message headers, and an ordered list of mailbox definitions. Each mailbox
// carries a recipient pattern expression and optional header and source
// filters; the first mailbox, in configured order, whose filters all match
// wins. If nothing matches the router reports no match - the common
// convention of a trailing catch-all mailbox with a "*" recipient pattern
// is configuration, not router behavior.
//
// # Pattern expressions
//
// A pattern expression is a comma-separated list of patterns; the list
// matches when any element matches. Each element is either a glob (the
// default, "*" matches any run of characters, whole-string, case
// insensitive):
//
//	*@sales.example.com
//	admin@*
//
// or a regular expression wrapped in "/" delimiters, applied case
// insensitively with substring semantics unless the expression anchors
// itself:
//
//	/.*@(sales|support)\.example\.com$/
//
// Pattern evaluation never returns an error: an expression that fails to
// compile, or whose evaluation exceeds the per-test time budget, simply
// does not match. A rule that is broken in configuration therefore cannot
// take down delivery for the rest of the list.
//
// The package holds no mutable state apart from an internal cache of
// compiled expressions, so concurrent routing decisions need no
// coordination. The mailbox list is treated as read-only; callers that
// support reloading must publish a fresh list rather than mutate one that
// is in flight.
package routing
