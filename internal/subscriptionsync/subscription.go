// Package subscriptionsync implements the shared-folder HTTP mirror (C8):
// per-path sync state tracking, a periodic sync loop, and checksum-verified
// upload/delete against a remote object store.
package subscriptionsync

import "context"

// SubscriptionState is the overall lifecycle of a subscription (spec §3.6).
type SubscriptionState string

const (
	StateNotStarted SubscriptionState = "NotStarted"
	StateSyncing    SubscriptionState = "Syncing"
	StateReady      SubscriptionState = "Ready"
)

// Subscription is a subscriber's record of a streamer's shared folder
// (spec §3.6).
type Subscription struct {
	SubscriptionID      string
	SubscriberIdentity  string
	SharedFolder        string
	HTTPUploadDest      string // empty if this subscription has no HTTP mirror configured
	State               SubscriptionState
}

// PathState is a single path's sync status within a subscription (spec
// §4.8 "State"). Exactly one of the three is active; Hash is always the
// local merkle checksum suffix associated with that status.
type PathState struct {
	Status SyncStatus
	Hash   string
}

type SyncStatus string

const (
	StatusSync      SyncStatus = "Sync"
	StatusUploading SyncStatus = "Uploading"
	StatusWaiting   SyncStatus = "Waiting"
)

// RemoteMirror is the HTTP object-store contract a subscription's shared
// folder is mirrored against (spec §4.8 steps 1-5).
type RemoteMirror interface {
	// ListChecksums returns path -> checksum-suffix by pairing each
	// "NAME.vrkai" object with its sibling "NAME.<last8>.checksum".
	ListChecksums(ctx context.Context, dest string) (map[string]string, error)
	// Upload writes both the VRKai body and its checksum marker object.
	Upload(ctx context.Context, dest, path string, vrkaiBody []byte, checksumSuffix string) error
	// DeleteSubtree removes every object under dest (spec §4.8 "Unshare").
	DeleteSubtree(ctx context.Context, dest string) error
}

// LocalResource resolves a subscription's expected tree and fetches a
// path's current VectorResource body + checksum suffix for upload.
type LocalResource interface {
	ExpectedPaths(ctx context.Context, sharedFolder string) ([]string, error)
	ChecksumSuffix(ctx context.Context, sharedFolder, path string) (string, error)
	EncodeVRKai(ctx context.Context, sharedFolder, path string) ([]byte, error)
}
