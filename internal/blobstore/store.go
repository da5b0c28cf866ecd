// Package blobstore backs the GetAttachment/PutAttachment BLIP profile
// handlers with content-addressed storage, keyed the way Couchbase Lite
// keys sync attachments: a "sha1-<base64 digest>" string rather than a
// randomly generated temp ID, exposed through the same Put/Get shape as a
// typical object-store client.
package blobstore

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
)

var (
	// ErrNotFound is returned when no blob exists for a digest.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrTooLarge is returned by Put when the blob exceeds the store's limit.
	ErrTooLarge = errors.New("blobstore: too large")
)

// Store persists and retrieves blobs by content digest.
type Store interface {
	// Put stores data and returns its digest.
	Put(data []byte) (digest string, err error)
	// Get retrieves the blob for digest, or ErrNotFound.
	Get(digest string) ([]byte, error)
}

// Digest computes the "sha1-<base64>" digest string BLIP attachments use on
// the wire (the Content-Type/"digest" convention from the sync protocol
// this module's domain is modelled on).
func Digest(data []byte) string {
	sum := sha1.Sum(data)
	return "sha1-" + base64.StdEncoding.EncodeToString(sum[:])
}
