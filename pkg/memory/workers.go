package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	backfillInterval = 30 * time.Second
	backfillBatch    = 16
	backfillTextCap  = 2000

	retentionInterval = 10 * time.Minute
	retentionMinGap   = time.Minute
	retentionBatch    = 500
	retentionMaxLoops = 10

	defaultRetention = 30 * 24 * time.Hour
	// minRetention guards against a typo'd tiny retention purging a
	// session log; anything below one day falls back to the default.
	minRetention = 24 * time.Hour
)

// startWorkers schedules the embedding backfill and TTL retention jobs.
// SkipIfStillRunning is the per-worker re-entrancy guard: a slow tick is
// never overlapped by the next one.
func (r *Runtime) startWorkers() {
	if r.store == nil || !r.caps.eventsAvailable() {
		return
	}

	logger := cronLogger{r.logger}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(logger)))

	spec := fmt.Sprintf("@every %s", backfillInterval)
	if _, err := c.AddFunc(spec, r.backfillTick); err != nil {
		r.logger.Error().Err(err).Msg("embedding backfill worker not scheduled")
	}
	spec = fmt.Sprintf("@every %s", retentionInterval)
	if _, err := c.AddFunc(spec, r.retentionTick); err != nil {
		r.logger.Error().Err(err).Msg("retention worker not scheduled")
	}

	r.cronMu.Lock()
	r.cron = c
	r.cronMu.Unlock()
	c.Start()
	r.logger.Info().
		Dur("backfill_every", backfillInterval).
		Dur("retention_every", retentionInterval).
		Msg("session-event workers started")
}

// backfillTick embeds a bounded batch of events with no embedding, oldest
// first. The write is conditional on the embedding still being null so a
// concurrently-completed backfill of the same row is never overwritten.
func (r *Runtime) backfillTick() {
	if !r.caps.eventsAvailable() || !r.embedder.Enabled() {
		return
	}
	ctx := context.Background()

	events, err := r.store.EventsMissingEmbedding(ctx, backfillBatch)
	if err != nil {
		r.noteStoreError(err, "event backfill select")
		return
	}

	filled := 0
	for _, ev := range events {
		text := fmt.Sprintf("%s: %s", ev.Role, ev.Content)
		if len(text) > backfillTextCap {
			text = clipBytes(text, backfillTextCap)
		}
		vec := r.embedder.Embed(ctx, text)
		if vec == nil {
			// No provider can serve right now; the next tick retries.
			break
		}
		updated, err := r.store.SetEventEmbedding(ctx, ev.ID, vec)
		if err != nil {
			r.noteStoreError(err, "event backfill write")
			return
		}
		if updated {
			filled++
		}
	}
	if filled > 0 {
		r.logger.Debug().Int("events", filled).Msg("embedding backfill progressed")
	}
}

// retentionTick deletes events older than the retention window in bounded
// batches, oldest first, until caught up or the per-tick loop limit is hit.
// A minimum gap between sweeps keeps overlapping timers from thrashing the
// store.
func (r *Runtime) retentionTick() {
	if !r.caps.eventsAvailable() {
		return
	}

	r.retentionMu.Lock()
	if time.Since(r.lastRetention) < retentionMinGap {
		r.retentionMu.Unlock()
		return
	}
	r.lastRetention = time.Now()
	r.retentionMu.Unlock()

	retention := r.cfg.Retention
	if retention < minRetention {
		retention = defaultRetention
	}
	cutoff := r.now().Add(-retention)
	ctx := context.Background()

	deleted := int64(0)
	for i := 0; i < retentionMaxLoops; i++ {
		n, err := r.store.DeleteEventsBefore(ctx, cutoff, retentionBatch)
		if err != nil {
			r.noteStoreError(err, "event retention delete")
			return
		}
		deleted += n
		if n < retentionBatch {
			break
		}
	}
	if deleted > 0 {
		r.logger.Info().Int64("events", deleted).Time("cutoff", cutoff).Msg("expired session events removed")
	}
}

// stopWorkers cancels the cron runner and awaits outstanding jobs; it must
// complete before the store connection is released.
func (r *Runtime) stopWorkers() {
	r.cronMu.Lock()
	c := r.cron
	r.cron = nil
	r.cronMu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, kv ...interface{}) {
	c.l.Debug().Fields(kvFields(kv)).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, kv ...interface{}) {
	c.l.Error().Err(err).Fields(kvFields(kv)).Msg(msg)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		fields[key] = kv[i+1]
	}
	return fields
}
