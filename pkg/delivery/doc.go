// Package delivery pushes messages and files from the Processing Service
// into chats.
//
// Sends are attempt-level only: nothing is rolled back when a later part of
// a multi-part send fails, and a retried request may deliver twice.
package delivery
