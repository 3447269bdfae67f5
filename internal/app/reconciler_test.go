package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
	"github.com/streamlux/pulsebanner/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAppDomain = "pulsebanner.example"

func newTestReconciler(features *mockFeatures, eventsub *fakeEventSub) *Reconciler {
	return NewReconciler(&mockAccounts{}, features, eventsub, testAppDomain, nil)
}

func TestCallbackURL(t *testing.T) {
	userID := uuid.MustParse("6f1c3a4e-5b7d-4a89-9c0e-1f2a3b4c5d6e")
	assert.Equal(t,
		"https://pulsebanner.example/api/twitch/notification/stream.online/6f1c3a4e-5b7d-4a89-9c0e-1f2a3b4c5d6e",
		CallbackURL(testAppDomain, domain.EventStreamOnline, userID))
}

func TestReconcile_CreatesMissingSubscriptions(t *testing.T) {
	eventsub := &fakeEventSub{}
	userID := uuid.New()
	r := newTestReconciler(newMockFeatures(domain.FeatureBanner), eventsub)

	result, err := r.Reconcile(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Created: 2}, result)
	require.Len(t, eventsub.created, 2)
	for _, req := range eventsub.created {
		assert.Equal(t, testBroadcasterID, req.BroadcasterUserID)
		assert.Equal(t, CallbackURL(testAppDomain, req.Type, userID), req.Callback)
	}
	assert.Equal(t, map[domain.EventType]int{domain.EventStreamOnline: 1, domain.EventStreamOffline: 1},
		eventsub.enabledTypesFor(testBroadcasterID))
}

func TestReconcile_Idempotent(t *testing.T) {
	eventsub := &fakeEventSub{}
	r := newTestReconciler(newMockFeatures(domain.FeatureTweet), eventsub)
	userID := uuid.New()

	_, err := r.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	eventsub.resetCalls()

	result, err := r.Reconcile(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Kept: 2}, result)
	assert.Empty(t, eventsub.created)
	assert.Empty(t, eventsub.deleted)
}

func TestReconcile_DeletesAllWhenNothingEnabled(t *testing.T) {
	eventsub := &fakeEventSub{}
	eventsub.add("a", domain.EventStreamOnline, domain.SubscriptionStatusEnabled, testBroadcasterID)
	eventsub.add("b", domain.EventStreamOffline, domain.SubscriptionStatusEnabled, testBroadcasterID)
	eventsub.add("other", domain.EventStreamOnline, domain.SubscriptionStatusEnabled, "T999")

	result, err := newTestReconciler(newMockFeatures(), eventsub).Reconcile(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Deleted: 2}, result)
	assert.ElementsMatch(t, []string{"a", "b"}, eventsub.deleted)
	assert.Empty(t, eventsub.created)
	assert.Equal(t, map[domain.EventType]int{domain.EventStreamOnline: 1}, eventsub.enabledTypesFor("T999"))
}

func TestReconcile_RemovesDuplicatesAndDisabled(t *testing.T) {
	eventsub := &fakeEventSub{}
	eventsub.add("online-1", domain.EventStreamOnline, domain.SubscriptionStatusEnabled, testBroadcasterID)
	eventsub.add("online-2", domain.EventStreamOnline, domain.SubscriptionStatusEnabled, testBroadcasterID)
	eventsub.add("offline-failed", domain.EventStreamOffline, "webhook_callback_verification_failed", testBroadcasterID)
	eventsub.add("follow", "channel.follow", domain.SubscriptionStatusEnabled, testBroadcasterID)

	result, err := newTestReconciler(newMockFeatures(domain.FeatureBanner), eventsub).Reconcile(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, ReconcileResult{Kept: 1, Created: 1, Deleted: 3}, result)
	assert.ElementsMatch(t, []string{"online-2", "offline-failed", "follow"}, eventsub.deleted)
	require.Len(t, eventsub.created, 1)
	assert.Equal(t, domain.EventStreamOffline, eventsub.created[0].Type)
	assert.Equal(t, map[domain.EventType]int{domain.EventStreamOnline: 1, domain.EventStreamOffline: 1},
		eventsub.enabledTypesFor(testBroadcasterID))
}

func TestReconcile_EndToEndToggle(t *testing.T) {
	eventsub := &fakeEventSub{}
	features := newMockFeatures()
	r := newTestReconciler(features, eventsub)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, features.SetEnabled(ctx, userID, domain.FeatureBanner, true))
	result, err := r.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)

	require.NoError(t, features.SetEnabled(ctx, userID, domain.FeatureBanner, false))
	result, err = r.Reconcile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Deleted)
	assert.Empty(t, eventsub.enabledTypesFor(testBroadcasterID))
}

func TestReconcile_JoinsIndividualFailures(t *testing.T) {
	createErr := errors.New("create refused")
	deleteErr := errors.New("delete refused")

	eventsub := &fakeEventSub{
		createErr: map[domain.EventType]error{domain.EventStreamOffline: createErr},
		deleteErr: map[string]error{"stale": deleteErr},
	}
	eventsub.add("stale", "channel.follow", domain.SubscriptionStatusEnabled, testBroadcasterID)
	eventsub.add("gone", "channel.raid", domain.SubscriptionStatusEnabled, testBroadcasterID)

	result, err := newTestReconciler(newMockFeatures(domain.FeatureTwitterName), eventsub).Reconcile(context.Background(), uuid.New())

	require.Error(t, err)
	assert.ErrorIs(t, err, createErr)
	assert.ErrorIs(t, err, deleteErr)
	assert.Equal(t, ReconcileResult{Created: 1, Deleted: 1}, result)
	assert.Equal(t, []string{"gone"}, eventsub.deleted)
}

func TestReconcile_ListFailure(t *testing.T) {
	listErr := errors.New("helix down")
	eventsub := &fakeEventSub{listErr: listErr}

	_, err := newTestReconciler(newMockFeatures(domain.FeatureBanner), eventsub).Reconcile(context.Background(), uuid.New())

	require.ErrorIs(t, err, listErr)
	assert.Empty(t, eventsub.created)
}

func TestReconcile_MissingTwitchAccount(t *testing.T) {
	accounts := &mockAccounts{
		getAccountFn: func(_ context.Context, _ uuid.UUID, _ domain.Provider) (*domain.Account, error) {
			return nil, domain.ErrAccountNotFound
		},
	}
	r := NewReconciler(accounts, newMockFeatures(domain.FeatureBanner), &fakeEventSub{}, testAppDomain, nil)

	_, err := r.Reconcile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestReconcile_RecordsMetrics(t *testing.T) {
	m := metrics.NewReconcileMetrics(prometheus.NewRegistry())
	eventsub := &fakeEventSub{}
	eventsub.add("stale", "channel.follow", domain.SubscriptionStatusEnabled, testBroadcasterID)
	r := NewReconciler(&mockAccounts{}, newMockFeatures(domain.FeatureBanner), eventsub, testAppDomain, m)

	_, err := r.Reconcile(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Runs.WithLabelValues("success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Subscriptions.WithLabelValues("create", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Subscriptions.WithLabelValues("delete", "success")), 0)
}

func TestPlan(t *testing.T) {
	needed := []domain.EventType{domain.EventStreamOnline, domain.EventStreamOffline}

	tests := []struct {
		name       string
		existing   []domain.EventSubSubscription
		wantDelete []string
		wantCreate []domain.EventType
		wantKept   int
	}{
		{
			name:       "empty",
			wantCreate: needed,
		},
		{
			name: "pending subscription is replaced",
			existing: []domain.EventSubSubscription{
				{ID: "p", Type: domain.EventStreamOnline, Status: "webhook_callback_verification_pending"},
				{ID: "off", Type: domain.EventStreamOffline, Status: domain.SubscriptionStatusEnabled},
			},
			wantDelete: []string{"p"},
			wantCreate: []domain.EventType{domain.EventStreamOnline},
			wantKept:   1,
		},
		{
			name: "enabled duplicate after a disabled one is kept",
			existing: []domain.EventSubSubscription{
				{ID: "bad", Type: domain.EventStreamOnline, Status: "authorization_revoked"},
				{ID: "good", Type: domain.EventStreamOnline, Status: domain.SubscriptionStatusEnabled},
				{ID: "off", Type: domain.EventStreamOffline, Status: domain.SubscriptionStatusEnabled},
			},
			wantDelete: []string{"bad"},
			wantKept:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toDelete, toCreate, kept := plan(needed, tt.existing)

			var ids []string
			for _, s := range toDelete {
				ids = append(ids, s.ID)
			}
			assert.Equal(t, tt.wantDelete, ids)
			assert.Equal(t, tt.wantCreate, toCreate)
			assert.Equal(t, tt.wantKept, kept)
		})
	}
}
