package services

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dueReleaseKey = "settlement:release:due"

// Releaser is the settlement entry point the scheduler drives.
type Releaser interface {
	Release(ctx context.Context, orderID uuid.UUID) (*ReleaseResult, error)
}

// ReleaseScheduler keeps due release times in a redis sorted set, scored by
// unix deadline, and fires the release once the deadline passes. The set
// survives worker restarts, so an armed timer is never lost.
type ReleaseScheduler struct {
	rdb      *redis.Client
	svc      Releaser
	interval time.Duration
	log      *zap.Logger
}

func NewReleaseScheduler(rdb *redis.Client, svc Releaser, interval time.Duration, log *zap.Logger) *ReleaseScheduler {
	return &ReleaseScheduler{rdb: rdb, svc: svc, interval: interval, log: log}
}

// Arm schedules a release for orderID after delay. ZAddNX keeps the first
// deadline when the order is already armed, so re-arming never postpones a
// release.
func (s *ReleaseScheduler) Arm(ctx context.Context, orderID uuid.UUID, delay time.Duration) error {
	due := float64(time.Now().Add(delay).Unix())
	err := s.rdb.ZAddNX(ctx, dueReleaseKey, redis.Z{Score: due, Member: orderID.String()}).Err()
	if err != nil {
		return err
	}
	s.log.Info("release armed",
		zap.String("order_id", orderID.String()),
		zap.Duration("delay", delay))
	return nil
}

// Trigger releases an order immediately, ahead of its timer. The armed entry
// is removed once the attempt reaches a terminal outcome, so the timer does
// not fire a second attempt later.
func (s *ReleaseScheduler) Trigger(ctx context.Context, orderID uuid.UUID) (*ReleaseResult, error) {
	res, err := s.svc.Release(ctx, orderID)
	if err == nil || terminal(err) {
		if remErr := s.rdb.ZRem(ctx, dueReleaseKey, orderID.String()).Err(); remErr != nil {
			s.log.Warn("disarm after trigger failed",
				zap.String("order_id", orderID.String()), zap.Error(remErr))
		}
	}
	return res, err
}

// ProcessDue releases every order whose deadline has passed. Transient
// failures keep the entry armed for the next tick.
func (s *ReleaseScheduler) ProcessDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	members, err := s.rdb.ZRangeByScore(ctx, dueReleaseKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 50,
	}).Result()
	if err != nil {
		s.log.Error("due release scan failed", zap.Error(err))
		return
	}

	for _, member := range members {
		orderID, err := uuid.Parse(member)
		if err != nil {
			s.log.Error("dropping malformed due entry", zap.String("member", member))
			_ = s.rdb.ZRem(ctx, dueReleaseKey, member).Err()
			continue
		}

		_, err = s.svc.Release(ctx, orderID)
		if err == nil || terminal(err) {
			if remErr := s.rdb.ZRem(ctx, dueReleaseKey, member).Err(); remErr != nil {
				s.log.Warn("disarm failed", zap.String("order_id", member), zap.Error(remErr))
			}
			if err != nil {
				s.log.Info("due release finished without payout",
					zap.String("order_id", member), zap.Error(err))
			}
			continue
		}
		s.log.Warn("due release hit transient error, keeping armed",
			zap.String("order_id", member), zap.Error(err))
	}
}

// Run drives ProcessDue on a ticker until ctx is cancelled.
func (s *ReleaseScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("release scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("release scheduler stopped")
			return
		case <-ticker.C:
			s.ProcessDue(ctx)
		}
	}
}
