package logic_test

import (
	"community_fed/logic"
	"community_fed/test"
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestHousekeeping_PurgesOldActivityIds(t *testing.T) {
	cfg := test.NewConfig(t)
	repo := test.NewRepo(cfg)
	hk := logic.NewHousekeeping(cfg, test.NewLogger(), repo, logic.NewMetrics(cfg))

	old := "https://stardust.community/activities/old"
	recent := "https://stardust.community/activities/recent"
	_, err := repo.MarkActivityHandled(old, time.Now().Add(-30*24*time.Hour))
	assert.Nil(t, err)
	_, err = repo.MarkActivityHandled(recent, time.Now())
	assert.Nil(t, err)

	purged, err := hk.RunOnce()
	assert.Nil(t, err)
	assert.Equal(t, int64(1), purged)

	handled, _ := repo.IsActivityHandled(old)
	assert.False(t, handled)
	handled, _ = repo.IsActivityHandled(recent)
	assert.True(t, handled)
}

func TestHousekeeping_StartStop(t *testing.T) {
	cfg := test.NewConfig(t)
	repo := test.NewRepo(cfg)
	hk := logic.NewHousekeeping(cfg, test.NewLogger(), repo, logic.NewMetrics(cfg))

	// Stop before Start is harmless
	hk.Stop()
	hk.Start()
	hk.Stop()
}
