// Package sync implements the incremental push of locally captured records to the
// remote service.
//
// A pass walks every record type in a fixed order. For each type the Manager checks
// connectivity, asks the PendingSelector for records created or updated after the
// type's watermark, sends them in one bulk request and, only once the remote has
// accepted the batch, advances the watermark to the completion time. Types are
// isolated from one another: a failure of one type never prevents the others from
// being attempted.
//
// Every attempt is written to the sync audit log. Manual passes write one entry per
// record type; the automatic scheduler in the scheduler subpackage adds a single
// summary entry for the whole pass.
//
// Delivery is at-least-once. A watermark that fails to persist after a successful
// transfer causes the same records to be sent again on the next pass, so the remote
// ingest endpoints are expected to upsert by record ID.
package sync
