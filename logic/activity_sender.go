package logic

import (
	"bytes"
	"community_fed/dto"
	"community_fed/shared"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"github.com/go-fed/httpsig"
	"io"
	"net/http"
	"net/url"
	"time"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_activity_sender.go -package mocks community_fed/logic IActivitySender

type IActivitySender interface {
	Send(ctx context.Context, privKey *rsa.PrivateKey, keyId, inboxUrl string, activity *dto.ActivityOut) error
}

const maxLoggedResponseLen = 256

type activitySender struct {
	logger    shared.ILogger
	client    *http.Client
	userAgent shared.IUserAgent
	metrics   IMetrics
}

func NewActivitySender(
	logger shared.ILogger,
	client *http.Client,
	userAgent shared.IUserAgent,
	metrics IMetrics,
) IActivitySender {
	return &activitySender{logger, client, userAgent, metrics}
}

// Send POSTs the activity signed over (request-target) host date digest, the way Mastodon expects it.
func (sender *activitySender) Send(
	ctx context.Context,
	privKey *rsa.PrivateKey,
	keyId,
	inboxUrl string,
	activity *dto.ActivityOut,
) error {

	obs := sender.metrics.StartApubRequestOut("post")
	defer obs.Finish()

	parsedUrl, err := url.Parse(inboxUrl)
	if err != nil || parsedUrl.Host == "" {
		return fmt.Errorf("invalid inbox url: %v", inboxUrl)
	}

	bodyJson, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	dateStr := time.Now().UTC().Format(http.TimeFormat)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxUrl, bytes.NewBuffer(bodyJson))
	if err != nil {
		return err
	}
	sender.userAgent.AddUserAgent(req)
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Host", parsedUrl.Host)
	req.Header.Set("Date", dateStr)

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{httpsig.RequestTarget, "host", "date", "digest"},
		httpsig.Signature,
		0)
	if err != nil {
		return err
	}
	if err = signer.SignRequest(privKey, keyId, req, bodyJson); err != nil {
		return err
	}

	resp, err := sender.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxLoggedResponseLen))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			InboxUrl:   inboxUrl,
			StatusCode: resp.StatusCode,
			Body:       shared.TruncateWithEllipsis(string(respBody), maxLoggedResponseLen),
		}
	}

	return nil
}
