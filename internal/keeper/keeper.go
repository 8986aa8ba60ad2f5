// Package keeper drives the time-based transitions nobody else triggers:
// closing commit windows, resolving votes, settling expired assertions and
// retrying payouts that failed.
package keeper

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"nestoracle/internal/config"
	cronrunner "nestoracle/internal/cron"
	"nestoracle/internal/oracle"
	"nestoracle/internal/paas"
	"nestoracle/internal/service"
	"nestoracle/internal/transfer"
	"nestoracle/internal/voting"
)

const defaultBatchSize = 100

type Keeper struct {
	Oracle   *oracle.Service
	Voting   *voting.Engine
	Outboxes []*transfer.Outbox
	Flags    *service.SystemSettingsService
	Logger   *zap.Logger

	BatchSize int
}

func (k *Keeper) batch() int {
	if k.BatchSize <= 0 {
		return defaultBatchSize
	}
	return k.BatchSize
}

func (k *Keeper) logger() *zap.Logger {
	if k.Logger == nil {
		return zap.NewNop()
	}
	return k.Logger
}

// AdvanceReveal moves every request whose commit window closed into Reveal.
func (k *Keeper) AdvanceReveal(ctx context.Context) (int, error) {
	if k.Voting == nil {
		return 0, nil
	}
	items, err := k.Voting.DueForReveal(ctx, k.batch())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range items {
		if err := k.Voting.AdvanceToReveal(ctx, req.RequestID); err != nil {
			k.logger().Warn("advance to reveal failed", zap.String("request_id", req.RequestID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// ResolveRequests resolves every request whose reveal window closed. Only
// requests that actually got a price are counted.
func (k *Keeper) ResolveRequests(ctx context.Context) (int, error) {
	if k.Voting == nil {
		return 0, nil
	}
	items, err := k.Voting.DueForResolve(ctx, k.batch())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, req := range items {
		result, err := k.Voting.Resolve(ctx, req.RequestID)
		if err != nil {
			k.logger().Warn("resolve request failed", zap.String("request_id", req.RequestID), zap.Error(err))
			continue
		}
		switch result.Outcome {
		case voting.OutcomeResolved:
			n++
		case voting.OutcomeEmergencyRequired:
			k.logger().Warn("price request needs emergency resolution", zap.String("request_id", req.RequestID))
		}
	}
	return n, nil
}

func (k *Keeper) SettleExpired(ctx context.Context) (int, error) {
	if k.Oracle == nil {
		return 0, nil
	}
	return k.Oracle.SettleExpired(ctx, k.batch())
}

func (k *Keeper) RetrySettlements(ctx context.Context) (int, error) {
	if k.Oracle == nil {
		return 0, nil
	}
	return k.Oracle.RetryStuckSettlements(ctx, k.batch())
}

// RetryTransfers re-sends failed non-settlement transfers of every outbox.
func (k *Keeper) RetryTransfers(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, o := range k.Outboxes {
		if o == nil {
			continue
		}
		n, err := o.RetryFailed(ctx, k.batch())
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

type job struct {
	name    string
	spec    string
	feature string
	run     func(ctx context.Context) (int, error)
}

func (k *Keeper) jobs(cfg config.CronConfig) []job {
	return []job{
		{"advance_reveal", cfg.AdvanceReveal, service.FeatureAdvanceReveal, k.AdvanceReveal},
		{"resolve_requests", cfg.ResolveRequests, service.FeatureResolveRequests, k.ResolveRequests},
		{"settle_expired", cfg.SettleExpired, service.FeatureSettleExpired, k.SettleExpired},
		{"retry_settlements", cfg.RetrySettlements, service.FeatureRetrySettlements, k.RetrySettlements},
		{"retry_transfers", cfg.RetryTransfers, service.FeatureRetryTransfers, k.RetryTransfers},
	}
}

// Register adds every keeper job to r. Jobs are skipped at run time while
// their feature switch is off.
func (k *Keeper) Register(r *cronrunner.Runner, cfg config.CronConfig) error {
	if cfg.BatchSize > 0 {
		k.BatchSize = cfg.BatchSize
	}
	for _, j := range k.jobs(cfg) {
		j := j
		if _, err := r.Add(j.name, j.spec, func(ctx context.Context) { k.runJob(ctx, j) }); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keeper) runJob(ctx context.Context, j job) {
	if k.Flags != nil && !k.Flags.IsEnabled(ctx, j.feature, true) {
		return
	}
	n, err := j.run(ctx)
	if err != nil {
		k.logger().Warn("cron "+j.name+" failed", zap.Int("done", n), zap.Error(err))
		paas.LogBestEffortCtx(ctx, "nest_cron_"+j.name+"_failed", "warn", map[string]any{
			"done":  n,
			"error": err.Error(),
		})
		return
	}
	if n == 0 {
		return
	}
	k.logger().Info("cron "+j.name+" ok", zap.Int("done", n))
	paas.LogBestEffortCtx(ctx, "nest_cron_"+j.name+"_ok", "info", map[string]any{"done": n})
}
