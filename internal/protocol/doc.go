// Package protocol implements the two-frame branch report protocol.
// It extracts the branch code from the identification frame, strips the
// tilde framing from the payload frame, decodes the Base64 report and
// defines the acknowledgement written back to the client.
//
// Frames are not length prefixed. Each frame is expected to arrive in a
// single receive of at most DefaultFrameSize bytes; anything beyond the
// receive buffer is not part of the frame and is left on the connection.
package protocol
