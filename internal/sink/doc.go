// Package sink holds the delivery destinations for relayed notifications.
// Every sink implements delivery.Sink and is only ever called from delivery
// workers.
package sink
