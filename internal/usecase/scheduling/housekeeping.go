package scheduling

import (
	"context"
	"log/slog"
	"time"
)

// HubMaintainer is the part of the command hub housekeeping touches.
type HubMaintainer interface {
	PruneResults(keep int) int
	ExpireHeartbeat(ttl time.Duration) bool
}

// HousekeepingConfig selects which hub jobs run and how often. An empty
// schedule disables its job.
type HousekeepingConfig struct {
	MaxResults    int
	PruneSchedule string
	HeartbeatTTL  time.Duration
	ReapSchedule  string
}

// Job names used by RegisterHousekeeping.
const (
	JobResultPrune   = "hub-result-prune"
	JobHeartbeatReap = "hub-heartbeat-reap"
)

// PruneResultsJob keeps the newest keep results.
func PruneResultsJob(h HubMaintainer, keep int, logger *slog.Logger) Job {
	return func(context.Context) error {
		if n := h.PruneResults(keep); n > 0 {
			logger.Info("hub results pruned", "removed", n, "kept", keep)
		}
		return nil
	}
}

// ReapHeartbeatJob clears the connected flag once the agent has been
// silent for longer than ttl.
func ReapHeartbeatJob(h HubMaintainer, ttl time.Duration, logger *slog.Logger) Job {
	return func(context.Context) error {
		if h.ExpireHeartbeat(ttl) {
			logger.Warn("hub agent heartbeat expired", "ttl", ttl)
		}
		return nil
	}
}

// RegisterHousekeeping adds the enabled hub jobs to s and returns how many
// were added.
func RegisterHousekeeping(s *Scheduler, h HubMaintainer, cfg HousekeepingConfig, logger *slog.Logger) (int, error) {
	added := 0
	if cfg.PruneSchedule != "" && cfg.MaxResults > 0 {
		if err := s.Add(JobResultPrune, cfg.PruneSchedule, PruneResultsJob(h, cfg.MaxResults, logger)); err != nil {
			return added, err
		}
		added++
	}
	if cfg.ReapSchedule != "" && cfg.HeartbeatTTL > 0 {
		if err := s.Add(JobHeartbeatReap, cfg.ReapSchedule, ReapHeartbeatJob(h, cfg.HeartbeatTTL, logger)); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}
