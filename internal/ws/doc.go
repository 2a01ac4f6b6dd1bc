// Package ws provides WebSocket connection handling for the broker.
//
// The package implements:
//   - Client: one duplex connection with a bounded, ordered outbound queue
//   - Endpoint: upgrades requests, classifies them, and runs the read/write pumps
//   - Registry: tracks live connections for health reporting and shutdown
//
// Key behaviour:
//   - Each connection is bound to exactly one Session (command or chat)
//   - Client.Close is the single teardown path and runs exactly once
//   - A full outbound queue disconnects only that client
package ws
