package subscriptionsync

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/worldline-go/hardloop"
)

// defaultUploadConcurrency bounds simultaneous uploads per sync tick (spec
// §4.8 step 4 "default 2 simultaneous").
const defaultUploadConcurrency = 2

// Syncer drives the periodic sync loop for a fixed set of subscriptions
// (spec §4.8).
type Syncer struct {
	mirror        RemoteMirror
	local         LocalResource
	state         *StateStore
	subscriptions func(ctx context.Context) ([]Subscription, error)
	concurrency   int64
}

// NewSyncer constructs a Syncer. concurrency <= 0 uses the spec default.
func NewSyncer(mirror RemoteMirror, local LocalResource, state *StateStore, concurrency int, subscriptions func(ctx context.Context) ([]Subscription, error)) *Syncer {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &Syncer{mirror: mirror, local: local, state: state, subscriptions: subscriptions, concurrency: int64(concurrency)}
}

// cronRunner is satisfied by hardloop's unexported cron job type, mirroring
// AT's workflow scheduler's own workaround for not being able to name it
// directly.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// Run starts the periodic sync loop on cronSpec (default "@every 5m") as a
// background hardloop cron job and returns immediately; call Stop (or
// cancel ctx) to tear it down.
func (s *Syncer) Run(ctx context.Context, cronSpec string) (cronRunner, error) {
	if cronSpec == "" {
		cronSpec = "@every 5m"
	}

	cronJob, err := hardloop.NewCron(hardloop.Cron{
		Name:  "subscription-sync",
		Specs: []string{cronSpec},
		Func:  s.tick,
	})
	if err != nil {
		return nil, fmt.Errorf("subscriptionsync: create cron runner: %w", err)
	}

	if err := cronJob.Start(ctx); err != nil {
		return nil, fmt.Errorf("subscriptionsync: start cron runner: %w", err)
	}

	return cronJob, nil
}

// tick runs one full sync pass across every configured subscription (spec
// §4.8 steps 1-5).
func (s *Syncer) tick(ctx context.Context) error {
	subs, err := s.subscriptions(ctx)
	if err != nil {
		return fmt.Errorf("subscriptionsync: list subscriptions: %w", err)
	}

	for _, sub := range subs {
		if sub.HTTPUploadDest == "" {
			continue
		}
		if err := s.syncOne(ctx, sub); err != nil {
			slog.Error("subscriptionsync: sync failed", "subscription_id", sub.SubscriptionID, "error", err)
		}
	}
	return nil
}

func (s *Syncer) syncOne(ctx context.Context, sub Subscription) error {
	remoteChecksums, err := s.mirror.ListChecksums(ctx, sub.HTTPUploadDest)
	if err != nil {
		return fmt.Errorf("list remote checksums for %q: %w", sub.SubscriptionID, err)
	}

	expected, err := s.local.ExpectedPaths(ctx, sub.SharedFolder)
	if err != nil {
		return fmt.Errorf("expected paths for %q: %w", sub.SubscriptionID, err)
	}

	sem := semaphore.NewWeighted(s.concurrency)
	errCh := make(chan error, len(expected))
	pending := 0

	for _, path := range expected {
		localSuffix, err := s.local.ChecksumSuffix(ctx, sub.SharedFolder, path)
		if err != nil {
			slog.Error("subscriptionsync: checksum lookup failed", "subscription_id", sub.SubscriptionID, "path", path, "error", err)
			continue
		}

		if remoteChecksums[path] == localSuffix {
			if err := s.state.Set(ctx, sub.SubscriptionID, path, PathState{Status: StatusSync, Hash: localSuffix}); err != nil {
				slog.Error("subscriptionsync: persist in-sync state failed", "subscription_id", sub.SubscriptionID, "path", path, "error", err)
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire upload slot for %q: %w", path, err)
		}
		pending++

		go func(path, suffix string) {
			defer sem.Release(1)
			errCh <- s.uploadOne(ctx, sub, path, suffix)
		}(path, localSuffix)
	}

	for i := 0; i < pending; i++ {
		if err := <-errCh; err != nil {
			slog.Error("subscriptionsync: upload failed", "subscription_id", sub.SubscriptionID, "error", err)
		}
	}

	return nil
}

func (s *Syncer) uploadOne(ctx context.Context, sub Subscription, path, checksumSuffix string) error {
	if err := s.state.Set(ctx, sub.SubscriptionID, path, PathState{Status: StatusUploading, Hash: checksumSuffix}); err != nil {
		return fmt.Errorf("mark uploading %q: %w", path, err)
	}

	body, err := s.local.EncodeVRKai(ctx, sub.SharedFolder, path)
	if err != nil {
		return fmt.Errorf("encode vrkai for %q: %w", path, err)
	}

	if err := s.mirror.Upload(ctx, sub.HTTPUploadDest, path, body, checksumSuffix); err != nil {
		return fmt.Errorf("upload %q: %w", path, err)
	}

	if err := s.state.Set(ctx, sub.SubscriptionID, path, PathState{Status: StatusSync, Hash: checksumSuffix}); err != nil {
		return fmt.Errorf("mark synced %q: %w", path, err)
	}
	return nil
}

// Unshare deletes the entire remote folder subtree and removes all sync
// state (spec §4.8 "Unshare").
func (s *Syncer) Unshare(ctx context.Context, sub Subscription) error {
	if sub.HTTPUploadDest != "" {
		if err := s.mirror.DeleteSubtree(ctx, sub.HTTPUploadDest); err != nil {
			return fmt.Errorf("subscriptionsync: delete remote subtree for %q: %w", sub.SubscriptionID, err)
		}
	}
	return s.state.Delete(ctx, sub.SubscriptionID)
}
