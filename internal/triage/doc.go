// Package triage implements Warden's alert triage pipeline: a fixed sequence
// of analytical stages that thread a shared state through reasoning-service
// calls, deterministic IOC extraction, and concurrent reputation lookups.
// It also defines the Service (ingest, lifecycle, async dispatch), the Store
// interface (persistence), and the domain models.
package triage
