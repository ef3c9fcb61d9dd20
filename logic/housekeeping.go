package logic

import (
	"community_fed/dal"
	"community_fed/shared"
	"context"
	"os"
	"time"
)

const housekeepingInterval = time.Hour

// IHousekeeping periodically forgets old handled/undone activity IDs and
// reports the size of the database file.
type IHousekeeping interface {
	Start()
	Stop()
	RunOnce() (purged int64, err error)
}

type housekeeping struct {
	cfg     *shared.Config
	logger  shared.ILogger
	repo    dal.IRepo
	metrics IMetrics
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewHousekeeping(cfg *shared.Config, logger shared.ILogger, repo dal.IRepo, metrics IMetrics) IHousekeeping {
	return &housekeeping{
		cfg:     cfg,
		logger:  logger,
		repo:    repo,
		metrics: metrics,
	}
}

func (hk *housekeeping) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	hk.cancel = cancel
	hk.done = make(chan struct{})
	go hk.loop(ctx)
}

func (hk *housekeeping) Stop() {
	if hk.cancel == nil {
		return
	}
	hk.cancel()
	<-hk.done
}

func (hk *housekeeping) loop(ctx context.Context) {
	defer close(hk.done)
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		hk.cycle()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (hk *housekeeping) cycle() {
	defer func() {
		if r := recover(); r != nil {
			hk.logger.Errorf("Housekeeping cycle panicked: %v", r)
		}
	}()
	if _, err := hk.RunOnce(); err != nil {
		hk.logger.Errorf("Housekeeping failed: %v", err)
	}
	hk.updateDbSizeMetric()
}

func (hk *housekeeping) RunOnce() (int64, error) {
	cutoff := time.Now().Add(-hk.cfg.Federation.HandledRetention())
	purged, err := hk.repo.PurgeActivityLog(cutoff)
	if err != nil {
		return 0, err
	}
	if purged != 0 {
		hk.logger.Infof("Purged %d activity IDs older than %s", purged, cutoff.UTC().Format(time.RFC3339))
	}
	hk.metrics.ActivityLogPurged(purged)
	return purged, nil
}

func (hk *housekeeping) updateDbSizeMetric() {
	fi, err := os.Stat(hk.cfg.DbFile)
	if err != nil {
		hk.logger.Errorf("Error getting DB file size: %v", err)
		return
	}
	hk.metrics.DbFileSize(fi.Size())
}
