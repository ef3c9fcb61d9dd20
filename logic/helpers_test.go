package logic_test

import (
	"community_fed/logic"
	"community_fed/shared"
	"community_fed/test"
	"context"
	"fmt"
	"testing"
)

// fixedKeys serves public keys from a map of key ID to owner and PEM.
type fixedKeys map[string][2]string

func (fk fixedKeys) GetPublicKey(ctx context.Context, keyId string) (string, string, error) {
	entry, ok := fk[keyId]
	if !ok {
		return "", "", fmt.Errorf("key %s: %w", keyId, logic.ErrNotFound)
	}
	return entry[0], entry[1], nil
}

func (fk fixedKeys) RefreshPublicKey(ctx context.Context, keyId string) (string, string, error) {
	return "", "", fmt.Errorf("key %s: %w", keyId, logic.ErrKeyUnavailable)
}

func callerKeyId() string {
	return test.ActorUri(test.CallerHost, test.CallerName) + "#main-key"
}

func callerKeys() fixedKeys {
	return fixedKeys{
		callerKeyId(): {test.ActorUri(test.CallerHost, test.CallerName), test.CallerKey().PubPem},
	}
}

func fastRetryConfig(t *testing.T) *shared.Config {
	cfg := test.NewConfig(t)
	cfg.Federation.RetryIntervalMs = 1
	return cfg
}
