// Package protocol owns the network-class wire contract.
//
// Layers, outermost first:
//   - frame: 4-byte record-marking header (last-fragment bit + 31-bit length)
//   - envelope: XDR struct carrying a transport control code, the 16-bit
//     message kind and an opaque body
//   - payload: XDR struct specific to one reserved kind
//
// Message kinds outside the reserved block belong to the hosting
// application; their bodies are never interpreted here.
package protocol
