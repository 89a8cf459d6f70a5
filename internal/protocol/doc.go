// Package protocol owns the message catalog and the message codec.
//
// Ownership boundary:
// - catalog construction from already-parsed definitions
// - outbound frame building from raw bytes or records
// - inbound payload decoding into records
//
// Subpackages hold the wire primitives (frame), command tables (proto),
// struct layouts (schema), handler registration (handler) and the
// incremental frame dispatcher (dispatch).
package protocol
