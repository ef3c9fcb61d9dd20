package logic_test

import (
	"community_fed/dal"
	"community_fed/logic"
	"community_fed/shared"
	"community_fed/test"
	"context"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type resolverHarness struct {
	cfg      *shared.Config
	repo     dal.IRepo
	ts       *httptest.Server
	hits     atomic.Int32
	status   atomic.Int32
	docUri   string
	docBody  []byte
	resolver logic.IActorResolver
}

// setupResolverTest serves pixie's actor document from a TLS test server.
// Set h.status to make the server fail.
func setupResolverTest(t *testing.T, docHost string) *resolverHarness {
	h := &resolverHarness{cfg: test.NewConfig(t)}
	h.repo = test.NewRepo(h.cfg)
	h.status.Store(http.StatusOK)
	h.ts = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		if code := int(h.status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		if r.URL.Path != "/users/pixie" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		_, _ = w.Write(h.docBody)
	}))
	t.Cleanup(h.ts.Close)

	if docHost == "" {
		docHost = h.ts.Listener.Addr().String()
	}
	doc := test.MakeActorDoc(docHost, test.CallerName, test.CallerKey().PubPem)
	h.docBody, _ = json.Marshal(doc)
	h.docUri = h.ts.URL + "/users/pixie"

	h.resolver = logic.NewActorResolver(h.cfg, test.NewLogger(), h.repo, logic.NewActorCache(h.cfg),
		h.ts.Client(), shared.NewUserAgent(h.cfg), logic.NewMetrics(h.cfg))
	return h
}

func TestActorResolver_FetchesOnce(t *testing.T) {
	h := setupResolverTest(t, "")
	ctx := context.Background()

	actor, err := h.resolver.Resolve(ctx, h.docUri)
	assert.Nil(t, err)
	if assert.NotNil(t, actor) {
		assert.Equal(t, h.docUri, actor.Uri)
		assert.Equal(t, test.CallerName, actor.Username)
		assert.Equal(t, test.CallerKey().PubPem, actor.PubKey)
		assert.False(t, actor.IsLocal)
	}

	// Second lookup, with fragment, comes from the cache
	again, err := h.resolver.Resolve(ctx, h.docUri+"#main-key")
	assert.Nil(t, err)
	assert.Equal(t, actor.Uri, again.Uri)
	assert.Equal(t, int32(1), h.hits.Load())

	stored, err := h.repo.GetActor(h.docUri)
	assert.Nil(t, err)
	assert.NotNil(t, stored)
}

func TestActorResolver_ForeignId(t *testing.T) {
	h := setupResolverTest(t, "evil.example")
	_, err := h.resolver.Resolve(context.Background(), h.docUri)
	assert.True(t, errors.Is(err, logic.ErrResolutionFailure))
	stored, _ := h.repo.GetActor(test.ActorUri("evil.example", test.CallerName))
	assert.Nil(t, stored)
}

func TestActorResolver_NotFound(t *testing.T) {
	h := setupResolverTest(t, "")
	_, err := h.resolver.Resolve(context.Background(), h.ts.URL+"/users/nobody")
	assert.True(t, errors.Is(err, logic.ErrResolutionFailure))
}

func TestActorResolver_StaleFallback(t *testing.T) {
	h := setupResolverTest(t, "")
	stale := test.MakeRemoteActor(h.ts.Listener.Addr().String(), test.CallerName, test.CallerKey().PubPem)
	stale.Uri = h.docUri
	stale.LastFetchedAt = time.Now().UTC().Add(-48 * time.Hour)
	assert.Nil(t, h.repo.UpsertRemoteActor(stale))
	h.status.Store(http.StatusBadGateway)

	actor, err := h.resolver.Resolve(context.Background(), h.docUri)
	assert.Nil(t, err)
	if assert.NotNil(t, actor) {
		assert.Equal(t, h.docUri, actor.Uri)
	}
	assert.Equal(t, int32(1), h.hits.Load())

	// ResolveForKey takes the stale record without asking
	_, err = h.resolver.ResolveForKey(context.Background(), h.docUri)
	assert.Nil(t, err)
	assert.Equal(t, int32(1), h.hits.Load())
}

func TestActorResolver_DisabledActor(t *testing.T) {
	h := setupResolverTest(t, "")
	_, err := h.resolver.Resolve(context.Background(), h.docUri)
	assert.Nil(t, err)
	h.resolver.Forget(h.docUri)
	_, err = h.repo.DisableActor(h.docUri)
	assert.Nil(t, err)

	_, err = h.resolver.Resolve(context.Background(), h.docUri)
	assert.True(t, errors.Is(err, logic.ErrResolutionFailure))
}

func TestActorResolver_LocalActor(t *testing.T) {
	h := setupResolverTest(t, "")
	local := test.AddLocalActor(h.repo, test.LocalName)

	actor, err := h.resolver.Resolve(context.Background(), local.Uri)
	assert.Nil(t, err)
	assert.True(t, actor.IsLocal)
	assert.Equal(t, int32(0), h.hits.Load())

	_, err = h.resolver.Resolve(context.Background(), "https://test-fed.net/actor/nobody")
	assert.True(t, errors.Is(err, logic.ErrResolutionFailure))
}

func TestActorResolver_GetPublicKey(t *testing.T) {
	h := setupResolverTest(t, "")
	owner, pem, err := h.resolver.GetPublicKey(context.Background(), h.docUri+"#main-key")
	assert.Nil(t, err)
	assert.Equal(t, h.docUri, owner)
	assert.Equal(t, test.CallerKey().PubPem, pem)

	h.status.Store(http.StatusGone)
	_, _, err = h.resolver.GetPublicKey(context.Background(), h.ts.URL+"/users/gone#main-key")
	assert.True(t, errors.Is(err, logic.ErrKeyUnavailable))
}

func TestActorResolver_RotatedKeyIsRefetched(t *testing.T) {
	h := setupResolverTest(t, "")
	old := test.MakeRemoteActor(h.ts.Listener.Addr().String(), test.CallerName, test.OtherKey().PubPem)
	old.LastFetchedAt = time.Now().UTC().Add(-2 * time.Hour)
	assert.Nil(t, h.repo.UpsertRemoteActor(old))

	// Sender now signs with the key its document serves
	chk := logic.NewHttpSigChecker(h.cfg, test.NewLogger(), h.resolver)
	req := newInboxRequest(inboxBody)
	test.SignRequest(req, []byte(inboxBody), test.CallerKey().Priv, old.KeyId)

	owner, err := chk.Check(context.Background(), req, []byte(inboxBody))
	assert.Nil(t, err)
	assert.Equal(t, h.docUri, owner)
	assert.Equal(t, int32(1), h.hits.Load())
	stored, _ := h.repo.GetActor(h.docUri)
	assert.Equal(t, test.CallerKey().PubPem, stored.PubKey)
}

func TestActorResolver_RecentKeyIsNotRefetched(t *testing.T) {
	h := setupResolverTest(t, "")
	_, err := h.resolver.Resolve(context.Background(), h.docUri)
	assert.Nil(t, err)

	chk := logic.NewHttpSigChecker(h.cfg, test.NewLogger(), h.resolver)
	req := newInboxRequest(inboxBody)
	test.SignRequest(req, []byte(inboxBody), test.OtherKey().Priv, h.docUri+"#main-key")

	_, err = chk.Check(context.Background(), req, []byte(inboxBody))
	assert.True(t, errors.Is(err, logic.ErrAuthFailure))
	assert.Equal(t, int32(1), h.hits.Load())
}

func TestActorResolver_FetchSurvivesCancelledCaller(t *testing.T) {
	h := setupResolverTest(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	actor, err := h.resolver.Resolve(ctx, h.docUri)
	assert.Nil(t, err)
	if assert.NotNil(t, actor) {
		assert.Equal(t, h.docUri, actor.Uri)
	}
}
