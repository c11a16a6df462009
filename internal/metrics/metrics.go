package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	ChunksReceived     atomic.Int64
	ChunksRejected     atomic.Int64
	FixesAccepted      atomic.Int64
	ConnectAttempts    atomic.Int64
	ConnectFailures    atomic.Int64
	ConnectionsLost    atomic.Int64
	DispatchSucceeded  atomic.Int64
	DispatchFailed     atomic.Int64
	DispatchBusy       atomic.Int64
	PermissionRefusals atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ridersafe_telemetry_chunks_received_total %d\n", ChunksReceived.Load())
	fmt.Fprintf(w, "ridersafe_telemetry_chunks_rejected_total %d\n", ChunksRejected.Load())
	fmt.Fprintf(w, "ridersafe_location_fixes_accepted_total %d\n", FixesAccepted.Load())
	fmt.Fprintf(w, "ridersafe_connect_attempts_total %d\n", ConnectAttempts.Load())
	fmt.Fprintf(w, "ridersafe_connect_failures_total %d\n", ConnectFailures.Load())
	fmt.Fprintf(w, "ridersafe_connections_lost_total %d\n", ConnectionsLost.Load())
	fmt.Fprintf(w, "ridersafe_dispatch_succeeded_total %d\n", DispatchSucceeded.Load())
	fmt.Fprintf(w, "ridersafe_dispatch_failed_total %d\n", DispatchFailed.Load())
	fmt.Fprintf(w, "ridersafe_dispatch_busy_total %d\n", DispatchBusy.Load())
	fmt.Fprintf(w, "ridersafe_permission_refusals_total %d\n", PermissionRefusals.Load())
}
