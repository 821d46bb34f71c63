// Package domain holds the conversation engine's shared vocabulary: key,
// envelope, message, conversation and sync-queue types (subpackage types)
// and the contracts between services (subpackage interfaces), re-exported
// here under short names.
package domain
