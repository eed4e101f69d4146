package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsService_RecordsLocalCounts(t *testing.T) {
	svc := NewStatsService(nil, 10, time.Second)
	defer svc.Stop()

	svc.Record("typing:start")
	svc.Record("typing:start")
	svc.Record("call:initiate")

	counts := svc.Local()
	assert.Equal(t, int64(2), counts["typing:start"])
	assert.Equal(t, int64(1), counts["call:initiate"])
}

func TestStatsService_ClusterFallsBackToLocalWithoutRedis(t *testing.T) {
	svc := NewStatsService(nil, 10, time.Second)
	defer svc.Stop()

	svc.Record("message:new")

	counts, err := svc.Cluster(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["message:new"])
}

func TestStatsService_LocalReturnsACopy(t *testing.T) {
	svc := NewStatsService(nil, 10, time.Second)
	defer svc.Stop()

	svc.Record("message:new")
	counts := svc.Local()
	counts["message:new"] = 999

	assert.Equal(t, int64(1), svc.Local()["message:new"])
}

func TestStatsService_ConcurrentRecords(t *testing.T) {
	svc := NewStatsService(nil, 10, time.Second)
	defer svc.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				svc.Record("typing:start")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1000), svc.Local()["typing:start"])
}

func TestStatsService_FlushWithoutRedisIsNoop(t *testing.T) {
	svc := NewStatsService(nil, 10, time.Second)
	defer svc.Stop()

	assert.NoError(t, svc.Flush(context.Background()))
}
