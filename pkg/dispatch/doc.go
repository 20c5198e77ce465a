// Package dispatch routes allowed inbound chat events to exactly one handler.
//
// Handlers are tried in a fixed order and the first that reports the event
// as handled wins:
//
//  1. document forward: a PDF attachment is sent to the ingest endpoint
//  2. connect: "connect" quoting a PDF presents the approved candidate list
//  3. numeric selection: a number quoting that list links the PDF
//  4. message relay (optional): anything else is posted to /message
//
// Events rejected by the allowlist never reach a handler, so they cause no
// network calls and no replies. A handler that panics is logged and treated
// as not having handled the event.
package dispatch
