// Package memory defines the core Memory entity, its visibility scopes,
// and the shared error taxonomy used across memoryd.
//
// A Memory is an immutable text artifact persisted by an agent. Only its
// embedding fields, usage counters, and supersession link may change after
// creation; content, scope, and authorship are fixed at write time.
package memory
