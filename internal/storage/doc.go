// Package storage turns capture bytes into durable artifacts. Sink names each
// screenshot deterministically from its URL and hands it to a BlobStore
// backend (local, gcs, or memory).
package storage
