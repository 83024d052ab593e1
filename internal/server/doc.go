// Package server implements the WebSocket and HTTP surface of the chat
// coordination layer.
//
// The implementation is organized into files for options, origin checks,
// the hub, clients, routing and HTTP handlers. Every inbound frame is handed
// to a FrameHandler; outbound frames arrive either as direct replies or
// through the hub's subscription to each user's private channel.
package server
