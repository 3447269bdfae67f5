package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streamlux/pulsebanner/internal/domain"
)

const (
	testBroadcasterID  = "T123"
	testTwitterAccount = "TW42"
)

// --- Mock AccountRepository ---

type mockAccounts struct {
	getUserFn    func(ctx context.Context, userID uuid.UUID) (*domain.User, error)
	getAccountFn func(ctx context.Context, userID uuid.UUID, provider domain.Provider) (*domain.Account, error)
}

func (m *mockAccounts) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	return &domain.User{ID: userID, Plan: domain.PlanFree}, nil
}

func (m *mockAccounts) GetAccount(ctx context.Context, userID uuid.UUID, provider domain.Provider) (*domain.Account, error) {
	if m.getAccountFn != nil {
		return m.getAccountFn(ctx, userID, provider)
	}
	switch provider {
	case domain.ProviderTwitch:
		return &domain.Account{UserID: userID, Provider: provider, ProviderAccountID: testBroadcasterID}, nil
	default:
		return &domain.Account{UserID: userID, Provider: provider, ProviderAccountID: testTwitterAccount,
			OAuthToken: "tok", OAuthTokenSecret: "secret"}, nil
	}
}

// --- Mock FeatureRepository ---

type mockFeatures struct {
	mu      sync.Mutex
	enabled map[domain.Feature]bool

	enabledFeaturesFn func(ctx context.Context, userID uuid.UUID) ([]domain.Feature, error)
	setEnabledFn      func(ctx context.Context, userID uuid.UUID, f domain.Feature, enabled bool) error
	getSettingsFn     func(ctx context.Context, userID uuid.UUID) (domain.Settings, error)

	banner       *domain.BannerSettings
	twitterName  *domain.TwitterNameSettings
	profileImage *domain.ProfileImageSettings
	tweet        *domain.TweetSettings
}

func newMockFeatures(enabled ...domain.Feature) *mockFeatures {
	m := &mockFeatures{enabled: map[domain.Feature]bool{}}
	for _, f := range enabled {
		m.enabled[f] = true
	}
	return m
}

func (m *mockFeatures) EnabledFeatures(ctx context.Context, userID uuid.UUID) ([]domain.Feature, error) {
	if m.enabledFeaturesFn != nil {
		return m.enabledFeaturesFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Feature
	for _, f := range domain.AllFeatures {
		if m.enabled[f] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFeatures) SetEnabled(ctx context.Context, userID uuid.UUID, f domain.Feature, enabled bool) error {
	if m.setEnabledFn != nil {
		if err := m.setEnabledFn(ctx, userID, f, enabled); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled == nil {
		m.enabled = map[domain.Feature]bool{}
	}
	m.enabled[f] = enabled
	return nil
}

func (m *mockFeatures) isEnabled(f domain.Feature) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled[f]
}

func (m *mockFeatures) GetSettings(ctx context.Context, userID uuid.UUID) (domain.Settings, error) {
	if m.getSettingsFn != nil {
		return m.getSettingsFn(ctx, userID)
	}
	return domain.Settings{Banner: m.banner, TwitterName: m.twitterName, ProfileImage: m.profileImage, Tweet: m.tweet}, nil
}

func (m *mockFeatures) GetBanner(_ context.Context, _ uuid.UUID) (*domain.BannerSettings, error) {
	if m.banner == nil {
		return nil, domain.ErrSettingsNotFound
	}
	s := *m.banner
	s.Enabled = m.isEnabled(domain.FeatureBanner)
	return &s, nil
}

func (m *mockFeatures) SaveBanner(_ context.Context, _ uuid.UUID, s domain.BannerSettings) error {
	m.banner = &s
	return nil
}

func (m *mockFeatures) GetTwitterName(_ context.Context, _ uuid.UUID) (*domain.TwitterNameSettings, error) {
	if m.twitterName == nil {
		return nil, domain.ErrSettingsNotFound
	}
	s := *m.twitterName
	return &s, nil
}

func (m *mockFeatures) SaveTwitterName(_ context.Context, _ uuid.UUID, s domain.TwitterNameSettings) error {
	m.twitterName = &s
	return nil
}

func (m *mockFeatures) GetProfileImage(_ context.Context, _ uuid.UUID) (*domain.ProfileImageSettings, error) {
	if m.profileImage == nil {
		return nil, domain.ErrSettingsNotFound
	}
	s := *m.profileImage
	return &s, nil
}

func (m *mockFeatures) SaveProfileImage(_ context.Context, _ uuid.UUID, s domain.ProfileImageSettings) error {
	m.profileImage = &s
	return nil
}

func (m *mockFeatures) GetTweet(_ context.Context, _ uuid.UUID) (*domain.TweetSettings, error) {
	if m.tweet == nil {
		return nil, domain.ErrSettingsNotFound
	}
	s := *m.tweet
	return &s, nil
}

func (m *mockFeatures) SaveTweet(_ context.Context, _ uuid.UUID, s domain.TweetSettings) error {
	m.tweet = &s
	return nil
}

// --- Fake EventSubClient ---

// fakeEventSub keeps subscriptions in memory like Twitch would.
type fakeEventSub struct {
	mu      sync.Mutex
	subs    []domain.EventSubSubscription
	nextID  int
	created []domain.EventSubRequest
	deleted []string

	listErr   error
	createErr map[domain.EventType]error
	deleteErr map[string]error
}

func (f *fakeEventSub) add(id string, t domain.EventType, status, broadcasterID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, domain.EventSubSubscription{ID: id, Type: t, Status: status, BroadcasterUserID: broadcasterID})
}

func (f *fakeEventSub) ListSubscriptions(_ context.Context) ([]domain.EventSubSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.EventSubSubscription(nil), f.subs...), nil
}

func (f *fakeEventSub) CreateSubscription(_ context.Context, req domain.EventSubRequest) (*domain.EventSubSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.createErr[req.Type]; err != nil {
		return nil, err
	}
	f.nextID++
	sub := domain.EventSubSubscription{
		ID:                fmt.Sprintf("created-%d", f.nextID),
		Type:              req.Type,
		Status:            domain.SubscriptionStatusEnabled,
		BroadcasterUserID: req.BroadcasterUserID,
		Callback:          req.Callback,
	}
	f.subs = append(f.subs, sub)
	f.created = append(f.created, req)
	return &sub, nil
}

func (f *fakeEventSub) DeleteSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	for i, s := range f.subs {
		if s.ID == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEventSub) enabledTypesFor(broadcasterID string) map[domain.EventType]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[domain.EventType]int{}
	for _, s := range f.subs {
		if s.BroadcasterUserID == broadcasterID && s.Enabled() {
			out[s.Type]++
		}
	}
	return out
}

func (f *fakeEventSub) resetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = nil
	f.deleted = nil
}

// --- Mock Twitter ---

type mockTwitter struct {
	mu sync.Mutex

	profile domain.TwitterProfile

	verifyFn       func(ctx context.Context) (*domain.TwitterProfile, error)
	updateNameFn   func(ctx context.Context, name string) error
	updateBannerFn func(ctx context.Context, image []byte) error
	updateImageFn  func(ctx context.Context, image []byte) error
	postTweetFn    func(ctx context.Context, text string) error
	bannerSnapFn   func(ctx context.Context, p *domain.TwitterProfile) (domain.Snapshot, error)
	profileSnapFn  func(ctx context.Context, p *domain.TwitterProfile) (domain.Snapshot, error)

	creds          []domain.TwitterCredentials
	names          []string
	banners        [][]byte
	bannerRemovals int
	profileImages  [][]byte
	tweets         []string
}

func newMockTwitter() *mockTwitter {
	return &mockTwitter{profile: domain.TwitterProfile{
		ID:               testTwitterAccount,
		Name:             "Streamer",
		ScreenName:       "streamer",
		ProfileImageURL:  "https://pbs.twimg.com/profile_images/1/me_normal.png",
		ProfileBannerURL: "https://pbs.twimg.com/profile_banners/42/1",
	}}
}

func (m *mockTwitter) ForUser(creds domain.TwitterCredentials) domain.TwitterClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = append(m.creds, creds)
	return m
}

func (m *mockTwitter) VerifyCredentials(ctx context.Context) (*domain.TwitterProfile, error) {
	if m.verifyFn != nil {
		return m.verifyFn(ctx)
	}
	p := m.profile
	return &p, nil
}

func (m *mockTwitter) UpdateName(ctx context.Context, name string) error {
	if m.updateNameFn != nil {
		if err := m.updateNameFn(ctx, name); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return nil
}

func (m *mockTwitter) UpdateBanner(ctx context.Context, image []byte) error {
	if m.updateBannerFn != nil {
		if err := m.updateBannerFn(ctx, image); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banners = append(m.banners, image)
	return nil
}

func (m *mockTwitter) RemoveBanner(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bannerRemovals++
	return nil
}

func (m *mockTwitter) UpdateProfileImage(ctx context.Context, image []byte) error {
	if m.updateImageFn != nil {
		if err := m.updateImageFn(ctx, image); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileImages = append(m.profileImages, image)
	return nil
}

func (m *mockTwitter) PostTweet(ctx context.Context, text string) error {
	if m.postTweetFn != nil {
		if err := m.postTweetFn(ctx, text); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tweets = append(m.tweets, text)
	return nil
}

func (m *mockTwitter) BannerSnapshot(ctx context.Context, p *domain.TwitterProfile) (domain.Snapshot, error) {
	if m.bannerSnapFn != nil {
		return m.bannerSnapFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Twitter serves whatever was uploaded last.
	if n := len(m.banners); n > 0 {
		return domain.SnapshotOf(m.banners[n-1]), nil
	}
	if p.ProfileBannerURL == "" {
		return domain.NoAsset(), nil
	}
	return domain.SnapshotOf([]byte("original-banner")), nil
}

func (m *mockTwitter) ProfileImageSnapshot(ctx context.Context, p *domain.TwitterProfile) (domain.Snapshot, error) {
	if m.profileSnapFn != nil {
		return m.profileSnapFn(ctx, p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.profileImages); n > 0 {
		return domain.SnapshotOf(m.profileImages[n-1]), nil
	}
	if p.ProfileImageURL == "" {
		return domain.NoAsset(), nil
	}
	return domain.SnapshotOf([]byte("original-avatar")), nil
}

// --- Fake AssetStore ---

type fakeAssets struct {
	mu        sync.Mutex
	snapshots map[string]domain.Snapshot
	restored  map[string]bool
	renders   map[uuid.UUID][]byte
	saveErr   error
	statErr   error
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		snapshots: map[string]domain.Snapshot{},
		restored:  map[string]bool{},
		renders:   map[uuid.UUID][]byte{},
	}
}

func (f *fakeAssets) PendingSnapshot(_ context.Context, kind domain.SnapshotKind, userID uuid.UUID) (bool, error) {
	if f.statErr != nil {
		return false, f.statErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + "/" + userID.String()
	_, ok := f.snapshots[key]
	return ok && !f.restored[key], nil
}

func (f *fakeAssets) MarkRestored(_ context.Context, kind domain.SnapshotKind, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + "/" + userID.String()
	if _, ok := f.snapshots[key]; !ok {
		return domain.ErrSnapshotNotFound
	}
	f.restored[key] = true
	return nil
}

func (f *fakeAssets) SaveSnapshot(_ context.Context, kind domain.SnapshotKind, userID uuid.UUID, snap domain.Snapshot) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(kind) + "/" + userID.String()
	f.snapshots[key] = snap
	delete(f.restored, key)
	return nil
}

func (f *fakeAssets) LoadSnapshot(_ context.Context, kind domain.SnapshotKind, userID uuid.UUID) (domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snapshots[string(kind)+"/"+userID.String()]
	if !ok {
		return domain.Snapshot{}, domain.ErrSnapshotNotFound
	}
	return snap, nil
}

func (f *fakeAssets) PutRenderedProfileImage(_ context.Context, userID uuid.UUID, image []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renders[userID] = image
	return nil
}

func (f *fakeAssets) GetRenderedProfileImage(_ context.Context, userID uuid.UUID) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	image, ok := f.renders[userID]
	if !ok {
		return nil, domain.ErrRenderNotFound
	}
	return image, nil
}

// --- Mock Renderer ---

type mockRenderer struct {
	mu       sync.Mutex
	requests []domain.RenderRequest
	renderFn func(ctx context.Context, req domain.RenderRequest) ([]byte, error)
}

func (m *mockRenderer) Render(ctx context.Context, req domain.RenderRequest) ([]byte, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.renderFn != nil {
		return m.renderFn(ctx, req)
	}
	return []byte("rendered-" + string(req.Template)), nil
}

func (m *mockRenderer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// --- Mock StreamLookup ---

type mockStreamLookup struct {
	getStreamFn func(ctx context.Context, broadcasterID string) (*domain.Stream, error)
	getUserFn   func(ctx context.Context, userID string) (*domain.TwitchUser, error)
}

func (m *mockStreamLookup) GetStream(ctx context.Context, broadcasterID string) (*domain.Stream, error) {
	if m.getStreamFn != nil {
		return m.getStreamFn(ctx, broadcasterID)
	}
	return &domain.Stream{
		ID:           "stream-1",
		UserID:       broadcasterID,
		UserLogin:    "streamer",
		UserName:     "Streamer",
		Title:        "Speedruns",
		ThumbnailURL: "https://static-cdn.jtvnw.net/previews-ttv/live_user_streamer-1280x720.jpg",
	}, nil
}

func (m *mockStreamLookup) GetUser(ctx context.Context, userID string) (*domain.TwitchUser, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, userID)
	}
	return &domain.TwitchUser{ID: userID, Login: "streamer", DisplayName: "Streamer"}, nil
}

// --- Mock StreamRepository ---

type mockStreamRepo struct {
	mu      sync.Mutex
	started []domain.LiveStream
	ended   []uuid.UUID

	startErr          error
	liveBannerUsersFn func(ctx context.Context, plan domain.Plan) ([]uuid.UUID, error)
}

func (m *mockStreamRepo) StartStream(_ context.Context, userID uuid.UUID, streamID string, startedAt time.Time) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, domain.LiveStream{UserID: userID, StreamID: streamID, StartedAt: startedAt})
	return nil
}

func (m *mockStreamRepo) EndStream(_ context.Context, userID uuid.UUID, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, userID)
	return nil
}

func (m *mockStreamRepo) LiveBannerUsers(ctx context.Context, plan domain.Plan) ([]uuid.UUID, error) {
	if m.liveBannerUsersFn != nil {
		return m.liveBannerUsersFn(ctx, plan)
	}
	return nil, nil
}

// --- Fake OriginalNameRepository ---

type fakeNames struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
}

func (f *fakeNames) SaveOriginalName(_ context.Context, userID uuid.UUID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.names == nil {
		f.names = map[uuid.UUID]string{}
	}
	f.names[userID] = name
	return nil
}

func (f *fakeNames) GetOriginalName(_ context.Context, userID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.names[userID]
	if !ok {
		return "", domain.ErrOriginalNameNotFound
	}
	return name, nil
}

// --- Fake RenderCacheRepository ---

type fakeRenderCache struct {
	mu sync.Mutex
	at map[uuid.UUID]time.Time
}

func (f *fakeRenderCache) RenderedAt(_ context.Context, userID uuid.UUID) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	at, ok := f.at[userID]
	return at, ok, nil
}

func (f *fakeRenderCache) SetRenderedAt(_ context.Context, userID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.at == nil {
		f.at = map[uuid.UUID]time.Time{}
	}
	f.at[userID] = at
	return nil
}

// --- Mock Notifier ---

type mockNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (m *mockNotifier) Notify(_ context.Context, alert domain.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, alert)
	return nil
}

// --- Mock featureDisabler ---

type mockDisabler struct {
	mu       sync.Mutex
	disabled []domain.Feature
}

func (m *mockDisabler) Disable(_ context.Context, _ uuid.UUID, features ...domain.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, features...)
	return nil
}
