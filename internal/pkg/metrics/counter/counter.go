package counter

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sheetgenius/sheetgenius/internal/pkg/cache"
	"github.com/sheetgenius/sheetgenius/internal/pkg/database"
)

const (
	generationsKey   = "stats:counters:generations"
	webhookEventsKey = "stats:counters:webhook_events"
)

func dayField(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AddGeneration increments the pending generation counter for today in Redis
func AddGeneration() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, generationsKey, dayField(time.Now()), 1).Err()
}

// AddWebhookEvent increments the pending webhook-event counter for today in Redis
func AddWebhookEvent() error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookEventsKey, dayField(time.Now()), 1).Err()
}

// FlushAll flushes both pending counters into the daily_stats table
func FlushAll() error {
	if err := flushHashToColumn(generationsKey, "generations"); err != nil {
		return err
	}
	if err := flushHashToColumn(webhookEventsKey, "webhook_events"); err != nil {
		return err
	}
	return nil
}

// flushHashToColumn drains a Redis hash atomically and applies batched increments
// to daily_stats. Uses RENAME to a temporary key for atomic drain without losing
// in-flight increments.
func flushHashToColumn(redisKey, column string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	// Atomically move the hash to a temp key for draining
	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	type pair struct {
		day string
		inc int64
	}
	pairs := make([]pair, 0, len(data))
	for day, v := range data {
		inc, ierr := strconv.ParseInt(v, 10, 64)
		if ierr != nil || inc == 0 {
			continue
		}
		pairs = append(pairs, pair{day: day, inc: inc})
	}
	if len(pairs) == 0 {
		return nil
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].day < pairs[j].day })

	db := database.GetDB()
	now := time.Now()
	for _, p := range pairs {
		sql := fmt.Sprintf(
			"INSERT INTO daily_stats (day, %s, created_at, updated_at) VALUES (?, ?, ?, ?) "+
				"ON DUPLICATE KEY UPDATE %s = %s + VALUES(%s), updated_at = VALUES(updated_at)",
			column, column, column, column,
		)
		if err := db.Exec(sql, p.day, p.inc, now, now).Error; err != nil {
			return err
		}
	}
	return nil
}

// StartFlusher flushes pending counters on a fixed interval until ctx is done.
func StartFlusher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if err := FlushAll(); err != nil {
					log.Printf("counter flush on shutdown failed: %v", err)
				}
				return
			case <-ticker.C:
				if err := FlushAll(); err != nil {
					log.Printf("counter flush failed: %v", err)
				}
			}
		}
	}()
}
