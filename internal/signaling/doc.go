// Package signaling is the WebSocket transport for the rendezvous relay.
//
// Each accepted socket becomes a Client with a bounded send queue, one read
// loop and one write loop. The read loop enforces the per-connection limits
// (frame size, text-only frames, message rate, idle timeout) and hands every
// frame to the role's handler: the relay router for devices and admins, the
// room hub for the broadcast/viewer protocol.
package signaling
