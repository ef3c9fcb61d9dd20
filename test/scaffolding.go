package test

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"github.com/charmbracelet/log"
	"github.com/go-fed/httpsig"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const CallerHost = "stardust.community"
const CallerName = "pixie"
const OtherName = "ziggy"
const LocalHost = "test-fed.net"
const LocalName = "birb"
const PublicStream = "https://www.w3.org/ns/activitystreams#Public"

type KeyPair struct {
	Priv   *rsa.PrivateKey
	PubPem string
}

var muId sync.Mutex
var id = time.Now().UnixNano()

func GetNextId() uint64 {
	muId.Lock()
	defer muId.Unlock()
	id += 1
	return uint64(id)
}

var keyOnce sync.Once
var keys [2]*KeyPair

func mustMakeKeys() {
	for i := range keys {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			panic(err)
		}
		pubPem := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
		keys[i] = &KeyPair{Priv: priv, PubPem: string(pubPem)}
	}
}

// CallerKey is the key pair of the remote test actor.
func CallerKey() *KeyPair {
	keyOnce.Do(mustMakeKeys)
	return keys[0]
}

// OtherKey is a second, unrelated key pair, for forged signatures.
func OtherKey() *KeyPair {
	keyOnce.Do(mustMakeKeys)
	return keys[1]
}

func NewLogger() shared.ILogger {
	return log.New(io.Discard)
}

// NewConfig returns a config with defaults and a DB file in the test's temp dir.
func NewConfig(t *testing.T) *shared.Config {
	cfg := &shared.Config{
		Host:   LocalHost,
		DbFile: filepath.Join(t.TempDir(), "test.db"),
	}
	cfg.ApplyDefaults()
	return cfg
}

func NewRepo(cfg *shared.Config) dal.IRepo {
	repo := dal.NewRepo(cfg, NewLogger())
	repo.InitUpdateDb()
	return repo
}

func ActorUri(host, name string) string {
	return fmt.Sprintf("https://%s/users/%s", host, name)
}

func MakeActorDoc(host, name, pubKeyPem string) *dto.ActorDoc {
	uri := ActorUri(host, name)
	return &dto.ActorDoc{
		Context:           []string{shared.ActivityStreamsNs, shared.SecurityNs},
		Id:                uri,
		Type:              "Person",
		PreferredUserName: name,
		Name:              name,
		Summary:           "Account bio",
		Published:         "2023-12-10T00:00:00Z",
		Inbox:             uri + "/inbox",
		Outbox:            uri + "/outbox",
		Followers:         uri + "/followers",
		Following:         uri + "/following",
		Endpoints: &dto.ActorEndpoints{
			SharedInbox: fmt.Sprintf("https://%s/inbox", host),
		},
		PublicKey: dto.PublicKey{
			Id:           uri + "#main-key",
			Owner:        uri,
			PublicKeyPem: pubKeyPem,
		},
	}
}

// MakeRemoteActor is the stored form of MakeActorDoc.
func MakeRemoteActor(host, name, pubKeyPem string) *dal.Actor {
	uri := ActorUri(host, name)
	return &dal.Actor{
		Uri:           uri,
		Username:      name,
		Domain:        host,
		DisplayName:   name,
		KeyId:         uri + "#main-key",
		PubKey:        pubKeyPem,
		Inbox:         uri + "/inbox",
		SharedInbox:   fmt.Sprintf("https://%s/inbox", host),
		Outbox:        uri + "/outbox",
		FollowersUrl:  uri + "/followers",
		FollowingUrl:  uri + "/following",
		LastFetchedAt: time.Now().UTC(),
	}
}

// AddLocalActor stores a local actor with a throwaway key pair.
func AddLocalActor(repo dal.IRepo, name string) *dal.Actor {
	idb := shared.IdBuilder{Host: LocalHost}
	actor := &dal.Actor{
		Uri:          idb.ActorUrl(name),
		Username:     name,
		Domain:       LocalHost,
		IsLocal:      true,
		DisplayName:  name,
		KeyId:        idb.ActorKeyId(name),
		PubKey:       OtherKey().PubPem,
		Inbox:        idb.ActorInbox(name),
		SharedInbox:  idb.SharedInbox(),
		Outbox:       idb.ActorOutbox(name),
		FollowersUrl: idb.ActorFollowers(name),
		FollowingUrl: idb.ActorFollowing(name),
	}
	privBytes := x509.MarshalPKCS1PrivateKey(OtherKey().Priv)
	privPem := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes})
	if _, err := repo.AddLocalActor(actor, string(privPem)); err != nil {
		panic(err)
	}
	res, err := repo.GetLocalActor(name)
	if err != nil {
		panic(err)
	}
	return res
}

// SignRequest signs req the way Mastodon does: (request-target) host date digest.
func SignRequest(req *http.Request, body []byte, key *rsa.PrivateKey, keyId string) {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	req.Header.Set("Host", req.Host)
	prefs := []httpsig.Algorithm{httpsig.RSA_SHA256}
	headers := []string{httpsig.RequestTarget, "host", "date", "digest"}
	signer, _, err := httpsig.NewSigner(prefs, httpsig.DigestSha256, headers, httpsig.Signature, 0)
	if err != nil {
		panic(err)
	}
	if err = signer.SignRequest(key, keyId, req, body); err != nil {
		panic(err)
	}
}
