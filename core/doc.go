// Package core contains canonical integration domain contracts, entities, and
// orchestration logic: entry records and their state machine, the flow engine,
// handler contracts, and the service coordinating them. Lower-level adapters
// must depend on this package; core must not depend on storage-specific or
// transport-specific adapters.
package core
