package logic_test

import (
	"community_fed/dal"
	"community_fed/logic"
	"community_fed/shared"
	"community_fed/test"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"github.com/stretchr/testify/assert"
	"testing"
)

func storeWithKeys(t *testing.T, cfg *shared.Config, repo dal.IRepo, user, pubKey, privKey string) {
	idb := shared.IdBuilder{Host: cfg.Host}
	actor := &dal.Actor{
		Uri:      idb.ActorUrl(user),
		Username: user,
		Domain:   cfg.Host,
		IsLocal:  true,
		KeyId:    idb.ActorKeyId(user),
		PubKey:   pubKey,
		Inbox:    idb.ActorInbox(user),
	}
	_, err := repo.AddLocalActor(actor, privKey)
	assert.Nil(t, err)
}

func checkKeyPair(t *testing.T, ks logic.IKeyStore, user, pubKey string) {
	priv, err := ks.GetPrivKey(user)
	if !assert.Nil(t, err) {
		return
	}
	block, _ := pem.Decode([]byte(pubKey))
	if !assert.NotNil(t, block) {
		return
	}
	assert.Equal(t, "PUBLIC KEY", block.Type)
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	assert.Nil(t, err)
	rsaPub, ok := pub.(*rsa.PublicKey)
	if assert.True(t, ok) {
		assert.Equal(t, 0, rsaPub.N.Cmp(priv.PublicKey.N))
	}
}

func TestKeyStore_PlainKey(t *testing.T) {
	cfg := test.NewConfig(t)
	repo := test.NewRepo(cfg)
	ks := logic.NewKeyStore(cfg, repo)

	pubKey, privKey, err := ks.MakeKeyPair()
	assert.Nil(t, err)
	assert.Contains(t, privKey, "RSA PRIVATE KEY")
	assert.NotContains(t, privKey, "ENCRYPTED")

	storeWithKeys(t, cfg, repo, "plain", pubKey, privKey)
	checkKeyPair(t, ks, "plain", pubKey)
}

func TestKeyStore_EncryptedKey(t *testing.T) {
	cfg := test.NewConfig(t)
	cfg.Secrets.PrivKeyPassphrase = "hunter2"
	repo := test.NewRepo(cfg)
	ks := logic.NewKeyStore(cfg, repo)

	pubKey, privKey, err := ks.MakeKeyPair()
	assert.Nil(t, err)
	assert.Contains(t, privKey, "ENCRYPTED")

	storeWithKeys(t, cfg, repo, "secret", pubKey, privKey)
	checkKeyPair(t, ks, "secret", pubKey)

	cfg.Secrets.PrivKeyPassphrase = "wrong"
	_, err = ks.GetPrivKey("secret")
	assert.NotNil(t, err)
}

func TestKeyStore_NoSuchUser(t *testing.T) {
	cfg := test.NewConfig(t)
	ks := logic.NewKeyStore(cfg, test.NewRepo(cfg))
	_, err := ks.GetPrivKey("nobody")
	assert.True(t, errors.Is(err, logic.ErrNotFound))
}
