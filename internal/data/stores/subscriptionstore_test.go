package stores

import (
	"context"
	"testing"

	"github.com/hay-kot/pagewatch/internal/core/subscription"
	"github.com/hay-kot/pagewatch/internal/data/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscriptionStore(t *testing.T) *SubscriptionStore {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewSubscriptionStore(database)
}

func TestSubscriptionStore_GetNotFound(t *testing.T) {
	store := newTestSubscriptionStore(t)

	_, err := store.Get(context.Background(), 1)
	assert.ErrorIs(t, err, subscription.ErrNotFound)

	facts, err := store.Facts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, subscription.Facts{}, facts)
}

func TestSubscriptionStore_SetupLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	require.NoError(t, store.SetCredential(ctx, 7, "secret"))
	facts, err := store.Facts(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, subscription.Facts{CredentialPresent: true}, facts)

	require.NoError(t, store.SetDatabase(ctx, 7, "db-1", "Tasks"))
	require.NoError(t, store.SetTrackedFields(ctx, 7, []string{"Status", "Due"}))
	require.NoError(t, store.SetTarget(ctx, 7, subscription.Target{ChatID: -100, Kind: subscription.TargetGroup}))

	sub, err := store.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "secret", sub.Credential)
	assert.Equal(t, "db-1", sub.DatabaseID)
	assert.Equal(t, "Tasks", sub.DatabaseTitle)
	assert.Equal(t, []string{"Status", "Due"}, sub.TrackedFields)
	require.NotNil(t, sub.Target)
	assert.Equal(t, int64(-100), sub.Target.ChatID)
	assert.True(t, sub.Active)
	assert.True(t, sub.Trackable())

	fields, err := store.TrackedFields(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"Status", "Due"}, fields)

	target, ok, err := store.NotificationTarget(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, subscription.TargetGroup, target.Kind)
}

func TestSubscriptionStore_SetDatabaseKeepsFieldsForSameDatabase(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	require.NoError(t, store.SetCredential(ctx, 1, "c"))
	require.NoError(t, store.SetDatabase(ctx, 1, "db-1", "Tasks"))
	require.NoError(t, store.SetTrackedFields(ctx, 1, []string{"Status"}))

	require.NoError(t, store.SetDatabase(ctx, 1, "db-1", "Tasks (renamed)"))
	fields, err := store.TrackedFields(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Status"}, fields)

	require.NoError(t, store.SetDatabase(ctx, 1, "db-2", "Bugs"))
	fields, err = store.TrackedFields(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestSubscriptionStore_ClearConnection(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	require.NoError(t, store.SetCredential(ctx, 1, "c"))
	require.NoError(t, store.SetDatabase(ctx, 1, "db-1", "Tasks"))
	require.NoError(t, store.SetTrackedFields(ctx, 1, []string{"Status"}))
	require.NoError(t, store.SetTarget(ctx, 1, subscription.Target{ChatID: 1, Kind: subscription.TargetPrivate}))

	require.NoError(t, store.ClearConnection(ctx, 1))

	facts, err := store.Facts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, subscription.Facts{TargetChosen: true}, facts)
}

func TestSubscriptionStore_ClearDatabase(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	require.NoError(t, store.SetCredential(ctx, 1, "c"))
	require.NoError(t, store.SetDatabase(ctx, 1, "db-1", "Tasks"))
	require.NoError(t, store.SetTrackedFields(ctx, 1, []string{"Status"}))

	require.NoError(t, store.ClearDatabase(ctx, 1))

	facts, err := store.Facts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, subscription.Facts{CredentialPresent: true}, facts)
}

func TestSubscriptionStore_SettersRequireSubscription(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	assert.ErrorIs(t, store.SetDatabase(ctx, 9, "db", "t"), subscription.ErrNotFound)
	assert.ErrorIs(t, store.SetTrackedFields(ctx, 9, []string{"a"}), subscription.ErrNotFound)
	assert.ErrorIs(t, store.SetActive(ctx, 9, false), subscription.ErrNotFound)
}

func TestSubscriptionStore_ListActive(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	for _, id := range []int64{3, 1, 2} {
		require.NoError(t, store.SetCredential(ctx, id, "c"))
	}
	require.NoError(t, store.SetActive(ctx, 2, false))

	ids, err := store.ListActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSubscriptionStore_Artifacts(t *testing.T) {
	ctx := context.Background()
	store := newTestSubscriptionStore(t)

	require.NoError(t, store.AddArtifact(ctx, 5, 10))
	require.NoError(t, store.AddArtifact(ctx, 5, 11))
	require.NoError(t, store.AddArtifact(ctx, 5, 11))
	require.NoError(t, store.AddArtifact(ctx, 6, 12))

	ids, err := store.ListArtifacts(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, ids)

	require.NoError(t, store.RemoveArtifact(ctx, 5, 10))
	ids, err = store.ListArtifacts(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{11}, ids)
}
