// Package conflict reconciles local state with state fetched from the sync
// service.
//
// Conversations are last-writer-wins on lastModified, with remote fields laid
// over the local record. Messages are unioned by id and ordered by creation
// time. Settings are a key-level overlay with remote taking precedence.
package conflict
