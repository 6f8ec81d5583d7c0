// Package metrics defines the Prometheus collectors for the intake service.
package metrics
