package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drainvoice/internal/common"
	"drainvoice/internal/connectivity"
	"drainvoice/internal/models"
	"drainvoice/internal/repositories"
	"drainvoice/testhelpers"
)

type syncFixture struct {
	local   *repositories.SQLiteLocalStore
	remote  *testhelpers.FakeRemoteStore
	tracker *connectivity.Tracker
	engine  *SyncEngine
	ctx     context.Context
}

func newSyncFixture(t *testing.T, online bool, backoff BackoffPolicy) *syncFixture {
	t.Helper()
	local := testhelpers.NewTestLocalStore(t)
	remote := testhelpers.NewFakeRemoteStore()
	tracker := connectivity.NewTracker(online)
	return &syncFixture{
		local:   local,
		remote:  remote,
		tracker: tracker,
		engine:  NewSyncEngine(local, remote, tracker, backoff),
		ctx:     context.Background(),
	}
}

func (f *syncFixture) put(t *testing.T, inv *models.Invoice) {
	t.Helper()
	_, err := f.local.PutInvoice(f.ctx, inv)
	require.NoError(t, err)
}

func (f *syncFixture) pending(t *testing.T) []*models.PendingSyncEntry {
	t.Helper()
	entries, err := f.local.ListPending(f.ctx)
	require.NoError(t, err)
	return entries
}

func TestBackoffPolicy_Delay(t *testing.T) {
	policy := BackoffPolicy{Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, time.Duration(0), policy.Delay(0))
	assert.Equal(t, time.Second, policy.Delay(1))
	assert.Equal(t, 2*time.Second, policy.Delay(2))
	assert.Equal(t, 8*time.Second, policy.Delay(4))
	assert.Equal(t, 10*time.Second, policy.Delay(5))
	assert.Equal(t, 10*time.Second, policy.Delay(200))

	assert.Equal(t, time.Duration(0), BackoffPolicy{}.Delay(3))
}

func TestSync_OfflineSaveThenReconnect(t *testing.T) {
	f := newSyncFixture(t, false, BackoffPolicy{})

	inv := &models.Invoice{
		ID:            "INV-1",
		InvoiceNumber: "INV-1",
		Date:          "2024-03-01",
		Items:         []models.LineItem{{SNo: 1, Name: "Rice", Quantity: 2, Price: 100, Total: 200}},
	}
	f.put(t, inv)

	_, err := f.engine.Sync(f.ctx, SyncOptions{})
	assert.ErrorIs(t, err, common.ErrOffline)
	assert.Zero(t, f.remote.Calls("upsert"))

	f.tracker.SetOnline(true)
	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Remaining)
	assert.True(t, f.remote.Has("INV-1"))
	assert.Empty(t, f.pending(t))

	stored, err := f.local.GetInvoice(f.ctx, "INV-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSynced, stored.SyncStatus)
	assert.NotContains(t, f.remote.Raw("INV-1"), "syncStatus")
}

func TestSync_RemoteMatchesLastLocalWrite(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.remote.Seed(testhelpers.SampleInvoice("INV-B", "2024-01-01", "Old"))

	a := testhelpers.SampleInvoice("INV-A", "2024-03-01", "First")
	f.put(t, a)
	a.ClientName = "Second"
	a.Items[0].SetQuantity(5)
	f.put(t, a)
	require.NoError(t, f.local.DeleteInvoice(f.ctx, "INV-B"))
	f.put(t, testhelpers.SampleInvoice("INV-C", "2024-03-02", "Third"))

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Synced)

	got, err := f.remote.GetInvoice(f.ctx, "INV-A")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.ClientName)
	assert.Equal(t, 250.0, got.GrandTotal())
	assert.False(t, f.remote.Has("INV-B"))
	assert.True(t, f.remote.Has("INV-C"))
	assert.Equal(t, []string{"upsert:INV-A", "upsert:INV-A", "delete:INV-B", "upsert:INV-C"}, f.remote.Ops())
}

func TestSync_ClearedFieldsReachRemote(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})

	inv := testhelpers.SampleInvoice("INV-P", "2024-03-01", "Acme")
	inv.PANNumber = "ABCDE1234F"
	inv.Note = "net 30"
	f.put(t, inv)
	_, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)

	inv.PANNumber = ""
	inv.Note = ""
	f.put(t, inv)
	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Remaining)

	local, err := f.local.GetInvoice(f.ctx, "INV-P")
	require.NoError(t, err)
	remote, err := f.remote.GetInvoice(f.ctx, "INV-P")
	require.NoError(t, err)
	assert.Empty(t, local.PANNumber)
	assert.Equal(t, local.PANNumber, remote.PANNumber)
	assert.Equal(t, local.Note, remote.Note)
	assert.Contains(t, f.remote.Raw("INV-P"), "panNumber")
}

func TestSync_ReplayTwiceIsIdempotent(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))
	entry := f.pending(t)[0]

	require.NoError(t, f.engine.replay(f.ctx, entry))
	once := f.remote.Raw("INV-1")
	require.NoError(t, f.engine.replay(f.ctx, entry))

	assert.Equal(t, once, f.remote.Raw("INV-1"))
}

func TestSync_PartialFailureKeepsFailedEntry(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))
	f.put(t, testhelpers.SampleInvoice("INV-2", "2024-03-01", "Acme"))
	f.put(t, testhelpers.SampleInvoice("INV-3", "2024-03-01", "Acme"))
	f.remote.FailFor("INV-2", errors.New("permission denied"))

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Remaining)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "INV-2", result.Failures[0].EntityID)
	assert.ErrorIs(t, result.Failures[0], common.ErrRemoteUnavailable)
	require.Len(t, result.Errors, 1)

	remaining := f.pending(t)
	require.Len(t, remaining, 1)
	assert.Equal(t, "INV-2", remaining[0].EntityID)
	assert.Equal(t, 1, remaining[0].Attempts)
	assert.Contains(t, remaining[0].LastError, "permission denied")

	stored, err := f.local.GetInvoice(f.ctx, "INV-2")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, stored.SyncStatus)

	f.remote.FailFor("INV-2", nil)
	result, err = f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Remaining)
}

func TestSync_HoldsBackLaterEntriesForFailedInvoice(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-X", "2024-03-01", "v1"))
	f.put(t, testhelpers.SampleInvoice("INV-Y", "2024-03-01", "Acme"))
	require.NoError(t, f.local.DeleteInvoice(f.ctx, "INV-X"))
	f.remote.FailFor("INV-X", errors.New("quota exceeded"))

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 2, result.Remaining)
	assert.Equal(t, []string{"upsert:INV-Y"}, f.remote.Ops())
	assert.Equal(t, 2, f.remote.Calls("upsert"))
	assert.Zero(t, f.remote.Calls("delete"))
}

func TestSync_BackoffSkipsUntilDueUnlessForced(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{Base: time.Minute, Max: time.Hour})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return now }

	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))
	f.remote.FailNext(1, errors.New("network unreachable"))

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	entry := f.pending(t)[0]
	require.NotNil(t, entry.NextAttemptAt)
	assert.True(t, entry.NextAttemptAt.Equal(now.Add(time.Minute)))

	result, err = f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, f.remote.Calls("upsert"))

	result, err = f.engine.Sync(f.ctx, SyncOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Zero(t, result.Remaining)
}

func TestSync_BackoffDue(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{Base: time.Minute, Max: time.Hour})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.engine.now = func() time.Time { return now }

	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))
	f.remote.FailNext(1, errors.New("network unreachable"))
	_, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
}

func TestSync_ConcurrentTriggerIsRefused(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.remote.OnCall(func(op, id string) {
		if op == "upsert" {
			once.Do(func() { close(entered) })
			<-release
		}
	})

	done := make(chan *SyncResult)
	go func() {
		result, err := f.engine.Sync(f.ctx, SyncOptions{})
		assert.NoError(t, err)
		done <- result
	}()

	<-entered
	assert.True(t, f.engine.Status().Running)
	_, err := f.engine.Sync(f.ctx, SyncOptions{Force: true})
	assert.ErrorIs(t, err, common.ErrSyncInProgress)
	close(release)

	result := <-done
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, f.remote.Calls("upsert"))
	assert.False(t, f.engine.Status().Running)
}

func TestSync_StopsWhenConnectivityDrops(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))
	f.put(t, testhelpers.SampleInvoice("INV-2", "2024-03-01", "Acme"))
	f.remote.OnCall(func(op, id string) {
		if op == "upsert" && id == "INV-1" {
			f.tracker.SetOnline(false)
		}
	})

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Remaining)
}

// unknownEntryStore adds queue entries the engine cannot replay.
type unknownEntryStore struct {
	*repositories.SQLiteLocalStore
	extra   []*models.PendingSyncEntry
	cleared []string
}

func (s *unknownEntryStore) ListPending(ctx context.Context) ([]*models.PendingSyncEntry, error) {
	entries, err := s.SQLiteLocalStore.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return append(s.extra, entries...), nil
}

func (s *unknownEntryStore) ClearPending(ctx context.Context, entryID string) error {
	for _, entry := range s.extra {
		if entry.ID == entryID {
			s.cleared = append(s.cleared, entryID)
			return nil
		}
	}
	return s.SQLiteLocalStore.ClearPending(ctx, entryID)
}

func TestSync_DiscardsUnknownEntries(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})
	store := &unknownEntryStore{
		SQLiteLocalStore: f.local,
		extra: []*models.PendingSyncEntry{
			{ID: "u1", Type: "client", Action: models.ActionSave, EntityID: "c1"},
			{ID: "u2", Type: models.EntityInvoice, Action: "archive", EntityID: "INV-9"},
		},
	}
	engine := NewSyncEngine(store, f.remote, f.tracker, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))

	result, err := engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Discarded)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, []string{"u1", "u2"}, store.cleared)
}

func TestSync_EmptyQueue(t *testing.T) {
	f := newSyncFixture(t, true, BackoffPolicy{})

	result, err := f.engine.Sync(f.ctx, SyncOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Total)
	assert.Zero(t, result.Remaining)
	assert.Same(t, result, f.engine.Status().LastResult)
}

func TestWatch_ReconnectTriggersPass(t *testing.T) {
	f := newSyncFixture(t, false, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))

	stop := f.engine.Watch(f.ctx, f.tracker)
	defer stop()

	f.tracker.SetOnline(true)

	assert.Eventually(t, func() bool {
		count, err := f.local.CountPending(f.ctx)
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, f.remote.Has("INV-1"))
}

func TestWatch_StopUnsubscribes(t *testing.T) {
	f := newSyncFixture(t, false, BackoffPolicy{})
	f.put(t, testhelpers.SampleInvoice("INV-1", "2024-03-01", "Acme"))

	stop := f.engine.Watch(f.ctx, f.tracker)
	stop()
	f.tracker.SetOnline(true)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, f.remote.Calls("upsert"))
}
