// Package ccr is a client for the Chakra Community Repository.
//
// Client covers the read-only RPC queries. Session logs in and performs the mutating actions
// (vote, flag, notify, adopt, disown, delete, setcategory and submit). The service answers
// actions with html pages, so each one is confirmed afterwards by re-reading the package or
// by looking for a marker in the page (see package outcome).
package ccr
