// Package store holds the normalized records of one collection.
//
// # Overview
//
// A Store keeps three indexes:
//
//   - real records by their server id, plus the first-seen id order
//   - temp records created locally and not yet acknowledged by the server
//   - working copies produced by Clone
//
// Incoming data is merged into the cached objects with the merge package, so a
// *record.Record handed out once stays the live instance for its id, including
// across the temp to real id transition (see Promote).
//
// # Working copies
//
//	c, _ := st.Clone(id)    // edit c freely
//	st.Commit(id)           // write c onto the canonical record
//	st.Reset(id)            // or throw the edits away
//
// Network updates never touch a working copy.
//
// # Reads
//
// Find runs the query engine over the cached records. With query.Params.Paginate
// it answers from the pagination ledger instead, mapping the recorded ids to
// the current records.
//
// # Change feed
//
// Subscribe delivers one Change per kind after each committed batch. Snapshot
// and Restore hand the whole state over as msgpack bytes.
package store
