package browser

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// expireLeaseWait bounds how long an expiry waits behind an in-flight action.
// Such an action touches the session, so the expiry is stale by then anyway.
const expireLeaseWait = time.Minute

// rearmLocked cancels the pending expiry of id and schedules a new one.
// s.mu must be held.
func (s *Store) rearmLocked(id string) {
	e := s.entries[id]
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
	}
	gen := e.gen
	e.timer = time.AfterFunc(s.cfg.TTL, func() { s.expire(id, gen) })
}

// expire destroys id if it has not been touched since generation gen.
func (s *Store) expire(id string, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), expireLeaseWait)
	defer cancel()

	lease, err := s.Acquire(ctx, id)
	if err != nil {
		s.logger.Debug("expiry skipped", zap.String("sid", id), zap.Error(err))
		return
	}
	defer lease.Release()

	s.mu.Lock()
	e := s.entries[id]
	stale := e == nil || e.gen != gen
	s.mu.Unlock()
	if stale {
		return
	}
	s.logger.Info("session expired", zap.String("sid", id), zap.Duration("ttl", s.cfg.TTL))
	lease.Invalidate(ReasonExpired)
}
