// Package server implements the TCP listener that accepts branch connections and the
// optional HTTP API used to monitor sessions, stored reports and metrics.
package server
