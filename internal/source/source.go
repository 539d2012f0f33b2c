// internal/source/source.go

// Package source feeds scraped leads into the scheduler. The page-side
// agent owns the actual portal session; it listens for refresh commands on
// a pub/sub channel and writes each scrape snapshot back into redis as a
// versioned JSON batch. This process only ever reads the latest snapshot.
package source

import (
	"context"
	"encoding/json"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	commandChannel = "leadpilot:commands"
	snapshotKey    = "leadpilot:scrape:leads"
	sequenceKey    = "leadpilot:scrape:seq"
	statusKey      = "leadpilot:scrape:status"

	agentCodeBalanceExhausted = "balance_exhausted"
)

// agentStatus is the agent's out-of-band failure report, written to the
// status key when a scrape cannot proceed at all. It is consumed as a
// one-shot signal; a resumed session starts clean.
type agentStatus struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Config controls how long to wait for the agent after a refresh.
type Config struct {
	SettleTimeout time.Duration
	PollInterval  time.Duration
}

// RedisSource implements the scheduler's LeadSource over the agent bridge.
type RedisSource struct {
	client *redis.Client
	cfg    Config
	logger logger.Logger

	// lastSeq is the snapshot version seen before the latest refresh
	// command, so EnsureLoaded can tell a fresh batch from a stale one.
	lastSeq int64
}

func NewRedisSource(client *redis.Client, cfg Config, log logger.Logger) *RedisSource {
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 15 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	return &RedisSource{
		client: client,
		cfg:    cfg,
		logger: log.WithFields(map[string]interface{}{"component": "source"}),
	}
}

// Refresh asks the agent for a new scrape and remembers the current
// snapshot version so EnsureLoaded can wait for it to advance.
func (s *RedisSource) Refresh(ctx context.Context) error {
	seq, err := s.client.Get(ctx, sequenceKey).Int64()
	if err != nil && err != redis.Nil {
		return errors.Wrap(errors.ErrCodeStoreReadFailed, "snapshot sequence read failed", err)
	}
	s.lastSeq = seq

	cmd, _ := json.Marshal(map[string]string{"type": "refresh"})
	if err := s.client.Publish(ctx, commandChannel, cmd).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeExtractionFailed, "refresh command publish failed", err)
	}
	return nil
}

// EnsureLoaded waits for a post-refresh snapshot carrying at least minCount
// leads. A snapshot that advanced but stayed short is accepted once the
// settle timeout passes; the page may genuinely have few leads.
func (s *RedisSource) EnsureLoaded(ctx context.Context, minCount int) error {
	deadline := time.Now().Add(s.cfg.SettleTimeout)
	for {
		seq, err := s.client.Get(ctx, sequenceKey).Int64()
		if err != nil && err != redis.Nil {
			return errors.Wrap(errors.ErrCodeStoreReadFailed, "snapshot sequence read failed", err)
		}
		if seq > s.lastSeq {
			leads, err := s.ExtractLeads(ctx)
			if err != nil {
				if _, category := errors.Categorize(err); category == errors.CategorySessionTerminal {
					return err
				}
			} else if len(leads) >= minCount {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if seq > s.lastSeq {
				// Fresh but short; trust it.
				return nil
			}
			return errors.New(errors.ErrCodeExtractionFailed, "agent did not deliver a snapshot in time")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// ExtractLeads reads the latest snapshot. An absent key is an empty page,
// not an error; the scheduler treats it as transient either way. An agent
// status report takes precedence over whatever snapshot is present.
func (s *RedisSource) ExtractLeads(ctx context.Context) ([]models.Lead, error) {
	if err := s.consumeAgentStatus(ctx); err != nil {
		return nil, err
	}

	raw, err := s.client.Get(ctx, snapshotKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, "snapshot read failed", err)
	}

	var leads []models.Lead
	if err := json.Unmarshal([]byte(raw), &leads); err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtractionFailed, "snapshot is not valid JSON", err)
	}
	return leads, nil
}

// consumeAgentStatus reads and clears the agent's failure report. The
// status key is advisory: an unreadable one is ignored rather than turned
// into a scrape failure of its own.
func (s *RedisSource) consumeAgentStatus(ctx context.Context) error {
	raw, err := s.client.GetDel(ctx, statusKey).Result()
	if err != nil {
		return nil
	}

	var status agentStatus
	if json.Unmarshal([]byte(raw), &status) != nil || status.Code == "" {
		return nil
	}

	s.logger.Warn("agent reported scrape failure", map[string]interface{}{
		"code":  status.Code,
		"error": status.Error,
	})
	if status.Code == agentCodeBalanceExhausted {
		return errors.New(errors.ErrCodeBalanceExhausted, status.Error)
	}
	return errors.New(errors.ErrCodeExtractionFailed, status.Error)
}
