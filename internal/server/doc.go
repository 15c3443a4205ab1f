// Package server implements the HTTP and WebSocket transport for roomcast.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers. Room state and fan-out
// live in the realtime engine; this package authenticates connections,
// pumps frames in and events out, and tears connections down.
package server
