// Package toolset merges tool sources behind a single listing and invocation facade.
//
// A Registry owns an ordered list of sources: in-process functions (LocalSource) and
// Model Context Protocol servers (MCPSource). Names are sanitized for providers and
// routed back to the source that offered them. Invoke never fails past its boundary:
// unknown names, bad arguments, timeouts, transport errors and panics all come back as
// an Err outcome the model can read.
package toolset
