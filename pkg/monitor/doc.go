// Package monitor watches the relay's HTTP API from outside the process.
//
// A run checks GET /get-groups for {"success": true}. On failure it alerts,
// restarts the relay through a Supervisor, waits for readiness and alerts
// again with the outcome. Alerts go through the relay's own /send-to-user.
package monitor
