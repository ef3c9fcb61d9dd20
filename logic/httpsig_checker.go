package logic

import (
	"community_fed/shared"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"github.com/go-fed/httpsig"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type IHttpSigChecker interface {
	// Check verifies the request's HTTP signature and returns the URI of the actor owning the key.
	Check(ctx context.Context, r *http.Request, body []byte) (keyOwner string, err error)
}

type httpSigChecker struct {
	cfg         *shared.Config
	logger      shared.ILogger
	keyProvider IKeyProvider
	reSigParam  *regexp.Regexp
	now         func() time.Time
}

func NewHttpSigChecker(cfg *shared.Config, logger shared.ILogger, keyProvider IKeyProvider) IHttpSigChecker {
	reSigParam := regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^,\s]*))`)
	return &httpSigChecker{cfg, logger, keyProvider, reSigParam, time.Now}
}

func authError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthFailure, fmt.Sprintf(format, args...))
}

func (chk *httpSigChecker) parseSigHeader(r *http.Request) map[string]string {
	sigHeader := r.Header.Get("Signature")
	if sigHeader == "" {
		sigHeader, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Signature ")
	}
	if sigHeader == "" {
		return nil
	}
	res := make(map[string]string)
	for _, groups := range chk.reSigParam.FindAllStringSubmatch(sigHeader, -1) {
		val := groups[2]
		if val == "" {
			val = groups[3]
		}
		res[groups[1]] = val
	}
	return res
}

func (chk *httpSigChecker) Check(ctx context.Context, r *http.Request, body []byte) (string, error) {

	params := chk.parseSigHeader(r)
	if params == nil {
		return "", authError("missing 'Signature' header")
	}
	keyId := params["keyId"]
	if keyId == "" || params["signature"] == "" {
		return "", authError("'Signature' header has no keyId or signature")
	}

	// Signed headers must cover the request line, host, date, and the digest when there is a body
	signed := make(map[string]bool)
	for _, h := range strings.Fields(strings.ToLower(params["headers"])) {
		signed[h] = true
	}
	required := []string{httpsig.RequestTarget, "host", "date"}
	if len(body) != 0 {
		required = append(required, "digest")
	}
	for _, h := range required {
		if !signed[h] {
			return "", authError("signature does not cover '%s'", h)
		}
	}

	if err := chk.checkDate(r.Header.Get("Date")); err != nil {
		return "", err
	}
	if len(body) != 0 {
		if err := checkDigest(r.Header.Get("Digest"), body); err != nil {
			return "", err
		}
	}

	owner, pubKeyPem, err := chk.keyProvider.GetPublicKey(ctx, keyId)
	if err != nil {
		return "", fmt.Errorf("%w: %w: %s: %v", ErrAuthFailure, ErrKeyUnavailable, keyId, err)
	}
	pubKey, algo, err := parsePublicKey(pubKeyPem)
	if err != nil {
		return "", authError("cannot use key %s: %v", keyId, err)
	}

	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", authError("%v", err)
	}
	if verifier.KeyId() != keyId {
		return "", authError("ambiguous keyId")
	}
	if err = verifier.Verify(pubKey, algo); err == nil {
		return owner, nil
	}

	// Stored key may be out of date if the sender rotated it
	newOwner, newPem, refreshErr := chk.keyProvider.RefreshPublicKey(ctx, keyId)
	if refreshErr != nil {
		chk.logger.Debugf("No fresh key for %s: %v", keyId, refreshErr)
		return "", authError("incorrect signature with key %s: %v", keyId, err)
	}
	if pubKey, algo, err = parsePublicKey(newPem); err != nil {
		return "", authError("cannot use refreshed key %s: %v", keyId, err)
	}
	if err = verifier.Verify(pubKey, algo); err != nil {
		return "", authError("incorrect signature with refreshed key %s: %v", keyId, err)
	}
	return newOwner, nil
}

func (chk *httpSigChecker) checkDate(dateStr string) error {
	if dateStr == "" {
		return authError("missing 'Date' header")
	}
	date, err := http.ParseTime(dateStr)
	if err != nil {
		return authError("invalid 'Date' header: %s", dateStr)
	}
	skew := chk.now().Sub(date)
	if skew < 0 {
		skew = -skew
	}
	if skew > chk.cfg.Federation.MaxClockSkew() {
		return authError("'Date' header is outside the accepted window: %s", dateStr)
	}
	return nil
}

func checkDigest(digestHeader string, body []byte) error {
	if digestHeader == "" {
		return authError("missing 'Digest' header")
	}
	sum := sha256.Sum256(body)
	expected := base64.StdEncoding.EncodeToString(sum[:])
	for _, part := range strings.Split(digestHeader, ",") {
		algo, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(algo, "SHA-256") {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(val), []byte(expected)) == 1 {
			return nil
		}
		return authError("body does not match 'Digest' header")
	}
	return authError("'Digest' header has no SHA-256 value")
}

// parsePublicKey accepts PKIX and PKCS#1 PEM, with RSA or Ed25519 keys.
func parsePublicKey(pubKeyPem string) (crypto.PublicKey, httpsig.Algorithm, error) {
	block, _ := pem.Decode([]byte(pubKeyPem))
	if block == nil {
		return nil, "", errors.New("key is not PEM")
	}
	var key crypto.PublicKey
	var err error
	if block.Type == "RSA PUBLIC KEY" {
		key, err = x509.ParsePKCS1PublicKey(block.Bytes)
	} else {
		key, err = x509.ParsePKIXPublicKey(block.Bytes)
	}
	if err != nil {
		return nil, "", err
	}
	switch key.(type) {
	case *rsa.PublicKey:
		return key, httpsig.RSA_SHA256, nil
	case ed25519.PublicKey:
		return key, httpsig.ED25519, nil
	}
	return nil, "", fmt.Errorf("unsupported key type %T", key)
}
