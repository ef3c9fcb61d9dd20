package logic_test

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/logic"
	"community_fed/test"
	"community_fed/test/mocks"
	"context"
	"crypto/rsa"
	"errors"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
	"net/http"
	"testing"
	"time"
)

type deliveryHarness struct {
	mockKeyStore *mocks.MockIKeyStore
	mockSender   *mocks.MockIActivitySender
	delivery     logic.IDelivery
}

func setupDeliveryTest(t *testing.T) *deliveryHarness {
	ctrl := gomock.NewController(t)
	cfg := fastRetryConfig(t)
	h := &deliveryHarness{
		mockKeyStore: mocks.NewMockIKeyStore(ctrl),
		mockSender:   mocks.NewMockIActivitySender(ctrl),
	}
	h.delivery = logic.NewDelivery(cfg, test.NewLogger(), test.NewRepo(cfg), h.mockKeyStore, h.mockSender, logic.NewMetrics(cfg))
	return h
}

func TestDelivery_DistinctInboxes(t *testing.T) {
	h := setupDeliveryTest(t)
	h.mockKeyStore.EXPECT().GetPrivKey(test.LocalName).Return(test.CallerKey().Priv, nil)
	keyId := "https://test-fed.net/actor/birb#main-key"
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), keyId, "https://a.example/inbox", gomock.Any()).Return(nil).Times(1)
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), keyId, "https://b.example/inbox", gomock.Any()).Return(nil).Times(1)

	failures := h.delivery.Deliver(context.Background(), &logic.Delivery{
		FromUser: test.LocalName,
		Inboxes:  []string{"https://a.example/inbox", "", "https://b.example/inbox", "https://a.example/inbox"},
		Activity: makeFollowOut(),
	})
	assert.Empty(t, failures)
}

func TestDelivery_RetriesTransientFailure(t *testing.T) {
	h := setupDeliveryTest(t)
	h.mockKeyStore.EXPECT().GetPrivKey(test.LocalName).Return(test.CallerKey().Priv, nil)
	inbox := "https://a.example/inbox"
	gomock.InOrder(
		h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), inbox, gomock.Any()).
			Return(&logic.DeliveryError{InboxUrl: inbox, StatusCode: http.StatusServiceUnavailable}),
		h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), inbox, gomock.Any()).
			Return(nil),
	)

	failures := h.delivery.Deliver(context.Background(), &logic.Delivery{
		FromUser: test.LocalName,
		Inboxes:  []string{inbox},
		Activity: makeFollowOut(),
	})
	assert.Empty(t, failures)
}

func TestDelivery_GivesUp(t *testing.T) {
	h := setupDeliveryTest(t)
	h.mockKeyStore.EXPECT().GetPrivKey(test.LocalName).Return(test.CallerKey().Priv, nil)
	goneInbox := "https://gone.example/inbox"
	downInbox := "https://down.example/inbox"
	okInbox := "https://ok.example/inbox"

	// Permanent failure is not retried
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), goneInbox, gomock.Any()).
		Return(&logic.DeliveryError{InboxUrl: goneInbox, StatusCode: http.StatusGone}).Times(1)
	// Default config: two retries after the first attempt
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), downInbox, gomock.Any()).
		Return(errors.New("connection refused")).Times(3)
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), okInbox, gomock.Any()).
		Return(nil).Times(1)

	failures := h.delivery.Deliver(context.Background(), &logic.Delivery{
		FromUser: test.LocalName,
		Inboxes:  []string{goneInbox, downInbox, okInbox},
		Activity: makeFollowOut(),
	})
	assert.Len(t, failures, 2)
	var delivErr *logic.DeliveryError
	assert.True(t, errors.As(failures[goneInbox], &delivErr))
	assert.NotNil(t, failures[downInbox])
	assert.Nil(t, failures[okInbox])
}

func TestDelivery_NoKey(t *testing.T) {
	h := setupDeliveryTest(t)
	h.mockKeyStore.EXPECT().GetPrivKey("ghost").Return(nil, logic.ErrNotFound)

	failures := h.delivery.Deliver(context.Background(), &logic.Delivery{
		FromUser: "ghost",
		Inboxes:  []string{"https://a.example/inbox", "https://b.example/inbox"},
		Activity: makeFollowOut(),
	})
	assert.Len(t, failures, 2)
	assert.True(t, errors.Is(failures["https://a.example/inbox"], logic.ErrNotFound))
}

func TestDelivery_EnqueueAndShutdown(t *testing.T) {
	h := setupDeliveryTest(t)
	h.mockKeyStore.EXPECT().GetPrivKey(test.LocalName).Return(test.CallerKey().Priv, nil)
	sent := make(chan struct{})
	h.mockSender.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), "https://a.example/inbox", gomock.Any()).
		DoAndReturn(func(context.Context, *rsa.PrivateKey, string, string, *dto.ActivityOut) error {
			close(sent)
			return nil
		})

	h.delivery.Enqueue(&logic.Delivery{
		FromUser: test.LocalName,
		Inboxes:  []string{"https://a.example/inbox"},
		Activity: makeFollowOut(),
	})
	// Nothing to send: returns at once
	h.delivery.Enqueue(&logic.Delivery{FromUser: test.LocalName, Activity: makeFollowOut()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.Nil(t, h.delivery.Shutdown(ctx))
	select {
	case <-sent:
	default:
		t.Error("activity was not sent before shutdown returned")
	}
}

func TestDelivery_FollowerInboxes(t *testing.T) {
	cfg := test.NewConfig(t)
	repo := test.NewRepo(cfg)
	local := test.AddLocalActor(repo, test.LocalName)
	remote := test.MakeRemoteActor(test.CallerHost, test.CallerName, test.CallerKey().PubPem)
	assert.Nil(t, repo.UpsertRemoteActor(remote))
	_, err := repo.AddFollow(&dal.Follow{FollowerUri: remote.Uri, FolloweeUri: local.Uri, Status: dal.FollowAccepted, ActivityId: "f1"})
	assert.Nil(t, err)

	dl := logic.NewDelivery(cfg, test.NewLogger(), repo, nil, nil, logic.NewMetrics(cfg))
	inboxes, err := dl.FollowerInboxes(local.Uri)
	assert.Nil(t, err)
	assert.Equal(t, []string{remote.SharedInbox}, inboxes)
}
