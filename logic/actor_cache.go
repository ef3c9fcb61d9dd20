package logic

import (
	"community_fed/dal"
	"community_fed/shared"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// IActorCache holds recently resolved remote actors, keyed by actor URI.
// Entries expire after the configured TTL and the least recently used ones
// are evicted once the cache is full.
type IActorCache interface {
	Get(uri string) (*dal.Actor, bool)
	Add(uri string, actor *dal.Actor)
	Remove(uri string)
	Len() int
}

type actorCache struct {
	lru *expirable.LRU[string, *dal.Actor]
}

func NewActorCache(cfg *shared.Config) IActorCache {
	fed := &cfg.Federation
	return &actorCache{
		lru: expirable.NewLRU[string, *dal.Actor](fed.ActorCacheSize, nil, fed.ActorCacheTtl()),
	}
}

func (ac *actorCache) Get(uri string) (*dal.Actor, bool) {
	return ac.lru.Get(uri)
}

func (ac *actorCache) Add(uri string, actor *dal.Actor) {
	ac.lru.Add(uri, actor)
}

func (ac *actorCache) Remove(uri string) {
	ac.lru.Remove(uri)
}

func (ac *actorCache) Len() int {
	return ac.lru.Len()
}
