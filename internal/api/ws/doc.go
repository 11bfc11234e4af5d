// Package ws streams kernel scheduler snapshots to WebSocket clients.
//
//	GET /debug/stream?interval=250ms
package ws
