// Package api is the HTTP surface the Processing Service uses to push
// messages into chats.
//
// Delivery endpoints pass, in order: per-IP rate limit, IP allowlist,
// X-API-Key, and (when enabled) a signed request envelope. Any failing gate
// answers before the chat provider is touched. Errors use the body
// {"error": code, "detail": text}; detail never carries secrets.
package api
