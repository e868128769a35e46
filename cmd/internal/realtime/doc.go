// Package realtime contains fintrack's chat WebSocket gateway: the connection
// registry, the message router and the offline mailbox backends.
package realtime
