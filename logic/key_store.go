package logic

import (
	"community_fed/dal"
	"community_fed/shared"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_key_store.go -package mocks community_fed/logic IKeyStore

type IKeyStore interface {
	GetPrivKey(user string) (*rsa.PrivateKey, error)
	MakeKeyPair() (pubKey, privKey string, err error)
}

type keyStore struct {
	cfg  *shared.Config
	repo dal.IRepo
}

func NewKeyStore(cfg *shared.Config, repo dal.IRepo) IKeyStore {
	return &keyStore{cfg, repo}
}

func (ks *keyStore) GetPrivKey(user string) (*rsa.PrivateKey, error) {

	privKeyStr, err := ks.repo.GetPrivKey(user)
	if err != nil {
		return nil, err
	}
	if privKeyStr == "" {
		return nil, fmt.Errorf("no private key for user %s: %w", user, ErrNotFound)
	}

	block, _ := pem.Decode([]byte(privKeyStr))
	if block == nil {
		return nil, fmt.Errorf("private key of user %s is not PEM", user)
	}
	privKeyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		privKeyBytes, err = x509.DecryptPEMBlock(block, []byte(ks.cfg.Secrets.PrivKeyPassphrase))
		if err != nil {
			return nil, err
		}
	}
	if block.Type == "PRIVATE KEY" {
		key, err := x509.ParsePKCS8PrivateKey(privKeyBytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("only RSA private keys are supported for signing")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(privKeyBytes)
}

// MakeKeyPair creates a new RSA key. The public half is PKIX, which is what Mastodon expects;
// the private half is PKCS#1, encrypted when a passphrase is configured.
func (ks *keyStore) MakeKeyPair() (pubKey, privKey string, err error) {

	pubKey = ""
	privKey = ""
	err = nil

	// Generate RSA key
	var key *rsa.PrivateKey
	key, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return
	}

	keyRaw := x509.MarshalPKCS1PrivateKey(key)
	privBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyRaw}
	if pass := ks.cfg.Secrets.PrivKeyPassphrase; pass != "" {
		privBlock, err = x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", keyRaw, []byte(pass), x509.PEMCipherAES256)
		if err != nil {
			return
		}
	}

	var pubRaw []byte
	if pubRaw, err = x509.MarshalPKIXPublicKey(&key.PublicKey); err != nil {
		return
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubRaw})

	pubKey = string(pubPEM)
	privKey = string(pem.EncodeToMemory(privBlock))

	return
}
