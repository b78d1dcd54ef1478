package config

import (
	"os"
	"strings"
)

// DisablePoLookupCache turns off the Redis read-through cache on purchase-order
// number lookups. Lookups fall back to MySQL only.
//
// Set via env:
// - RECON_DISABLE_PO_CACHE=true
func DisablePoLookupCache() bool {
	return envFlag("RECON_DISABLE_PO_CACHE")
}

// OutboxDispatcherDisabled stops the server from starting the background outbox
// dispatcher. Rows accumulate as PENDING until a dispatcher runs elsewhere.
//
// Set via env:
// - OUTBOX_DISPATCHER_DISABLED=true
func OutboxDispatcherDisabled() bool {
	return envFlag("OUTBOX_DISPATCHER_DISABLED")
}

func envFlag(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
