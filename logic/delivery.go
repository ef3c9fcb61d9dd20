package logic

import (
	"community_fed/dal"
	"community_fed/dto"
	"community_fed/shared"
	"context"
	"errors"
	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"sync"
	"time"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_delivery.go -package mocks community_fed/logic IDelivery

// Delivery is one outbound activity from a local actor to a set of inboxes.
type Delivery struct {
	FromUser string
	Inboxes  []string
	Activity *dto.ActivityOut
}

type IDelivery interface {
	// Enqueue sends in the background; failures are only logged.
	Enqueue(d *Delivery)
	// Deliver sends to every inbox and returns the failures by inbox URL.
	Deliver(ctx context.Context, d *Delivery) map[string]error
	FollowerInboxes(actorUri string) ([]string, error)
	Shutdown(ctx context.Context) error
}

const deliveryTimeout = 2 * time.Minute

type delivery struct {
	cfg      *shared.Config
	logger   shared.ILogger
	repo     dal.IRepo
	keyStore IKeyStore
	sender   IActivitySender
	metrics  IMetrics
	idb      shared.IdBuilder
	inFlight sync.WaitGroup
}

func NewDelivery(
	cfg *shared.Config,
	logger shared.ILogger,
	repo dal.IRepo,
	keyStore IKeyStore,
	sender IActivitySender,
	metrics IMetrics,
) IDelivery {
	return &delivery{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		keyStore: keyStore,
		sender:   sender,
		metrics:  metrics,
		idb:      shared.IdBuilder{Host: cfg.Host},
	}
}

func (dl *delivery) FollowerInboxes(actorUri string) ([]string, error) {
	return dl.repo.GetFollowerInboxes(actorUri)
}

func (dl *delivery) Enqueue(d *Delivery) {
	if len(d.Inboxes) == 0 {
		return
	}
	dl.inFlight.Add(1)
	go func() {
		defer dl.inFlight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()
		failures := dl.Deliver(ctx, d)
		for inbox, err := range failures {
			dl.logger.Warnf("Failed to deliver %s %s to %s: %v", d.Activity.Type, d.Activity.Id, inbox, err)
		}
	}()
}

func (dl *delivery) Deliver(ctx context.Context, d *Delivery) map[string]error {

	failures := make(map[string]error)
	privKey, err := dl.keyStore.GetPrivKey(d.FromUser)
	if err != nil {
		for _, inbox := range d.Inboxes {
			failures[inbox] = err
		}
		return failures
	}
	keyId := dl.idb.ActorKeyId(d.FromUser)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(dl.cfg.Federation.MaxParallelSends)

	for _, inbox := range distinct(d.Inboxes) {
		g.Go(func() error {
			dl.metrics.DeliveriesInFlight(1)
			defer dl.metrics.DeliveriesInFlight(-1)

			_, err := backoff.Retry(ctx, func() (struct{}, error) {
				err := dl.sender.Send(ctx, privKey, keyId, inbox, d.Activity)
				var delivErr *DeliveryError
				if errors.As(err, &delivErr) && !delivErr.Retryable() {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}, dl.retryOptions()...)

			dl.metrics.DeliveryFinished(err == nil)
			if err != nil {
				mu.Lock()
				failures[inbox] = err
				mu.Unlock()
			} else {
				dl.logger.Debugf("Delivered %s %s to %s", d.Activity.Type, d.Activity.Id, inbox)
			}
			// Never cancel the other recipients
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

func (dl *delivery) retryOptions() []backoff.RetryOption {
	fed := &dl.cfg.Federation
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = fed.RetryInterval()
	bo.MaxInterval = 10 * fed.RetryInterval()
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(fed.DeliveryRetries + 1)),
	}
}

// Shutdown waits for background deliveries to finish, or for ctx to end.
func (dl *delivery) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		dl.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func distinct(items []string) []string {
	seen := make(map[string]bool, len(items))
	res := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		res = append(res, item)
	}
	return res
}
