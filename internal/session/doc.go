// Package session drives the branch report exchange with one connected
// client and keeps a registry of sessions in flight.
//
// A session moves through the stages await_ident, parse_ident,
// ensure_branch, ack_ident, await_payload, decode_payload, write_report
// and ack_done before reaching done. Any failure ends the session in the
// stage where it occurred; the connection is then closed without a
// further acknowledgement.
package session
