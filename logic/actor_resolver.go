package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"golang.org/x/sync/singleflight"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_actor_resolver.go -package mocks community_fed/logic IActorResolver

const maxFetchedDocLen = 1024 * 1024

// Stored keys younger than this are not refetched after a failed verification.
const minKeyRefreshAge = time.Minute

const apubAccept = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`

// IKeyProvider supplies the public key behind an HTTP signature's keyId.
type IKeyProvider interface {
	GetPublicKey(ctx context.Context, keyId string) (owner, pubKeyPem string, err error)
	// RefreshPublicKey refetches the key's owner and returns the key only if it changed.
	RefreshPublicKey(ctx context.Context, keyId string) (owner, pubKeyPem string, err error)
}

type IActorResolver interface {
	IKeyProvider
	// Resolve returns a fresh record, refetching it once its TTL has passed.
	Resolve(ctx context.Context, uri string) (*dal.Actor, error)
	// ResolveForKey returns any stored record, however old, and only fetches on a miss.
	ResolveForKey(ctx context.Context, uri string) (*dal.Actor, error)
	FetchObject(ctx context.Context, uri string) ([]byte, error)
	Forget(uri string)
}

type actorResolver struct {
	cfg       *shared.Config
	logger    shared.ILogger
	repo      dal.IRepo
	cache     IActorCache
	client    *http.Client
	userAgent shared.IUserAgent
	metrics   IMetrics
	idb       shared.IdBuilder
	fetches   singleflight.Group
}

func NewActorResolver(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	cache IActorCache,
	client *http.Client,
	userAgent shared.IUserAgent,
	metrics IMetrics,
) IActorResolver {
	return &actorResolver{
		cfg:       cfg,
		logger:    logger,
		repo:      repo,
		cache:     cache,
		client:    client,
		userAgent: userAgent,
		metrics:   metrics,
		idb:       shared.IdBuilder{Host: cfg.Host},
	}
}

func resolutionError(uri string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrResolutionFailure, uri, err)
}

func (ar *actorResolver) Resolve(ctx context.Context, uri string) (*dal.Actor, error) {
	return ar.resolve(ctx, uri, false)
}

func (ar *actorResolver) ResolveForKey(ctx context.Context, uri string) (*dal.Actor, error) {
	return ar.resolve(ctx, uri, true)
}

func (ar *actorResolver) Forget(uri string) {
	ar.cache.Remove(shared.StripFragment(uri))
}

func (ar *actorResolver) resolve(ctx context.Context, uri string, staleOk bool) (*dal.Actor, error) {

	uri = shared.StripFragment(uri)

	if ar.idb.IsLocal(uri) {
		actor, err := ar.repo.GetActor(uri)
		if err != nil {
			return nil, err
		}
		if actor == nil || actor.Disabled {
			return nil, resolutionError(uri, ErrNotFound)
		}
		ar.metrics.ActorLookup("local")
		return actor, nil
	}

	if actor, ok := ar.cache.Get(uri); ok {
		ar.metrics.ActorLookup("cache")
		return actor, nil
	}

	stored, err := ar.repo.GetActor(uri)
	if err != nil {
		return nil, err
	}
	if stored != nil && stored.Disabled {
		return nil, resolutionError(uri, errors.New("actor has been deleted"))
	}
	if stored != nil {
		fresh := time.Since(stored.LastFetchedAt) < ar.cfg.Federation.ActorCacheTtl()
		if fresh || staleOk {
			ar.metrics.ActorLookup("db")
			if fresh {
				ar.cache.Add(uri, stored)
			}
			return stored, nil
		}
	}

	actor, err := ar.fetchActor(ctx, uri)
	if err != nil {
		if stored != nil {
			ar.logger.Warnf("Refreshing actor %s failed, using stored record: %v", uri, err)
			ar.metrics.ActorLookup("stale")
			return stored, nil
		}
		return nil, err
	}
	ar.metrics.ActorLookup("remote")
	return actor, nil
}

// fetchActor collapses concurrent fetches of the same URI into one request.
// The fetch outlives a cancelled caller, since other callers may be waiting on it.
func (ar *actorResolver) fetchActor(ctx context.Context, uri string) (*dal.Actor, error) {
	res, err, _ := ar.fetches.Do(uri, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ar.cfg.Federation.FetchTimeout())
		defer cancel()
		return ar.doFetchActor(fetchCtx, uri)
	})
	if err != nil {
		return nil, err
	}
	return res.(*dal.Actor), nil
}

func (ar *actorResolver) doFetchActor(ctx context.Context, uri string) (*dal.Actor, error) {

	ar.logger.Debugf("Fetching actor %s", uri)
	body, err := ar.FetchObject(ctx, uri)
	if err != nil {
		return nil, err
	}

	var doc dto.ActorDoc
	if err = json.Unmarshal(body, &doc); err != nil {
		return nil, resolutionError(uri, err)
	}
	actor, err := actorFromDoc(uri, &doc)
	if err != nil {
		return nil, resolutionError(uri, err)
	}

	if err = ar.repo.UpsertRemoteActor(actor); err != nil {
		return nil, err
	}
	// Read back: stored row carries the disabled flag and our own counts
	stored, err := ar.repo.GetActor(actor.Uri)
	if err != nil {
		return nil, err
	}
	if stored == nil || stored.IsLocal {
		return nil, resolutionError(uri, errors.New("remote document claims a local actor"))
	}
	if stored.Disabled {
		return nil, resolutionError(uri, errors.New("actor has been deleted"))
	}
	ar.cache.Add(uri, stored)
	if stored.Uri != uri {
		ar.cache.Add(stored.Uri, stored)
	}
	return stored, nil
}

func sameHost(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Host != "" && strings.EqualFold(ua.Host, ub.Host)
}

func actorFromDoc(requestedUri string, doc *dto.ActorDoc) (*dal.Actor, error) {
	if doc.Id == "" {
		return nil, errors.New("actor document has no id")
	}
	if doc.Inbox == "" {
		return nil, errors.New("actor document has no inbox")
	}
	if doc.PublicKey.PublicKeyPem == "" {
		return nil, errors.New("actor document has no public key")
	}
	if !sameHost(doc.Id, requestedUri) {
		return nil, fmt.Errorf("actor id %s is not on the host of %s", doc.Id, requestedUri)
	}
	if doc.PublicKey.Owner != "" && doc.PublicKey.Owner != doc.Id {
		return nil, fmt.Errorf("public key is owned by %s, not %s", doc.PublicKey.Owner, doc.Id)
	}
	domain, err := shared.GetHostName(doc.Id)
	if err != nil {
		return nil, err
	}
	actor := &dal.Actor{
		Uri:              doc.Id,
		Username:         doc.PreferredUserName,
		Domain:           domain,
		DisplayName:      doc.Name,
		Summary:          doc.Summary,
		KeyId:            doc.PublicKey.Id,
		PubKey:           doc.PublicKey.PublicKeyPem,
		Inbox:            doc.Inbox,
		Outbox:           doc.Outbox,
		FollowersUrl:     doc.Followers,
		FollowingUrl:     doc.Following,
		ManuallyApproves: doc.ManuallyApproves,
		LastFetchedAt:    time.Now().UTC(),
	}
	if doc.Endpoints != nil {
		actor.SharedInbox = doc.Endpoints.SharedInbox
	}
	if actor.KeyId == "" {
		actor.KeyId = doc.Id + "#main-key"
	}
	return actor, nil
}

// FetchObject GETs an ActivityStreams document. The response is size-limited
// and the request is bounded by the client's timeout.
func (ar *actorResolver) FetchObject(ctx context.Context, uri string) ([]byte, error) {

	obs := ar.metrics.StartApubRequestOut("get")
	defer obs.Finish()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, resolutionError(uri, err)
	}
	ar.userAgent.AddUserAgent(req)
	req.Header.Set("Accept", apubAccept)

	resp, err := ar.client.Do(req)
	if err != nil {
		return nil, resolutionError(uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, resolutionError(uri, fmt.Errorf("got status %v", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchedDocLen+1))
	if err != nil {
		return nil, resolutionError(uri, err)
	}
	if len(body) > maxFetchedDocLen {
		return nil, resolutionError(uri, errors.New("document too large"))
	}
	return body, nil
}

func (ar *actorResolver) GetPublicKey(ctx context.Context, keyId string) (owner, pubKeyPem string, err error) {

	// Usual case: keyId is actor#main-key, and the actor is known
	actor, err := ar.ResolveForKey(ctx, keyId)
	if err == nil {
		if actor.KeyId == keyId || shared.StripFragment(actor.KeyId) == shared.StripFragment(keyId) {
			return actor.Uri, actor.PubKey, nil
		}
	}
	if actor, dbErr := ar.repo.GetActorByKeyId(keyId); dbErr == nil && actor != nil && !actor.Disabled {
		return actor.Uri, actor.PubKey, nil
	}

	// keyId may be a standalone key document that names its owner
	body, fetchErr := ar.FetchObject(ctx, keyId)
	if fetchErr != nil {
		if err == nil {
			err = fetchErr
		}
		return "", "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	var keyDoc dto.PublicKey
	if jsonErr := json.Unmarshal(body, &keyDoc); jsonErr != nil || keyDoc.Owner == "" {
		return "", "", fmt.Errorf("%w: %s is neither an actor nor a key document", ErrKeyUnavailable, keyId)
	}
	if actor, err = ar.ResolveForKey(ctx, keyDoc.Owner); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if actor.KeyId != keyId {
		return "", "", fmt.Errorf("%w: owner %s does not list key %s", ErrKeyUnavailable, actor.Uri, keyId)
	}
	return actor.Uri, actor.PubKey, nil
}

func (ar *actorResolver) RefreshPublicKey(ctx context.Context, keyId string) (owner, pubKeyPem string, err error) {

	stored, err := ar.repo.GetActorByKeyId(keyId)
	if err == nil && stored == nil {
		stored, err = ar.repo.GetActor(shared.StripFragment(keyId))
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if stored == nil || stored.IsLocal || stored.Disabled {
		return "", "", fmt.Errorf("%w: no stored owner for %s", ErrKeyUnavailable, keyId)
	}
	if time.Since(stored.LastFetchedAt) < minKeyRefreshAge {
		return "", "", fmt.Errorf("%w: %s was fetched just now", ErrKeyUnavailable, stored.Uri)
	}

	ar.logger.Infof("Refetching %s to check for a new key", stored.Uri)
	ar.cache.Remove(stored.Uri)
	actor, err := ar.fetchActor(ctx, stored.Uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if actor.PubKey == stored.PubKey {
		return "", "", fmt.Errorf("%w: key of %s is unchanged", ErrKeyUnavailable, actor.Uri)
	}
	return actor.Uri, actor.PubKey, nil
}
