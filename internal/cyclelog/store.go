// internal/cyclelog/store.go

// Package cyclelog keeps human-readable cycle summaries and per-lead
// evaluation detail. Writes are suppressed when a cycle's content signature
// matches the previous one, so idle cycles never flood the history.
package cyclelog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"
	"leadpilot/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	summaryListKey = "leadpilot:log:summaries"
	detailListKey  = "leadpilot:log:details"
	signatureKey   = "leadpilot:log:signature"
)

// AuditIndexer indexes per-lead verdict documents for operator audit.
// Indexing is best-effort; failures are logged and never fatal.
type AuditIndexer interface {
	Index(ctx context.Context, index, docID string, body []byte) error
}

type Store struct {
	client          *redis.Client
	logger          logger.Logger
	summaryCapacity int64
	detailCapacity  int64

	indexer    AuditIndexer
	auditIndex string
}

func NewStore(client *redis.Client, log logger.Logger, summaryCapacity, detailCapacity int) *Store {
	return &Store{
		client:          client,
		logger:          log.WithFields(map[string]interface{}{"component": "cyclelog"}),
		summaryCapacity: int64(summaryCapacity),
		detailCapacity:  int64(detailCapacity),
	}
}

// WithAuditIndexer enables elasticsearch verdict indexing.
func (s *Store) WithAuditIndexer(indexer AuditIndexer, index string) *Store {
	s.indexer = indexer
	s.auditIndex = index
	return s
}

// Signature computes the deterministic content signature of a cycle:
// total count, qualified count, qualified identities and per-lead reasons.
// Only equality matters; the value has no other meaning.
func Signature(stats models.CycleStats) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|", stats.Total, stats.Qualified)

	ids := append([]string(nil), stats.QualifiedIDs...)
	sort.Strings(ids)
	fmt.Fprint(h, strings.Join(ids, ","))

	verdicts := append([]models.Verdict(nil), stats.Verdicts...)
	sort.Slice(verdicts, func(i, j int) bool { return verdicts[i].LeadID < verdicts[j].LeadID })
	for _, v := range verdicts {
		fmt.Fprintf(h, "|%s=%t:%s", v.LeadID, v.Passed, v.Reason)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// CycleCompleted records one finished cycle. If the signature equals the
// previously stored one the call is an idempotent no-op. Returns whether a
// summary was actually written.
func (s *Store) CycleCompleted(ctx context.Context, stats models.CycleStats) (bool, error) {
	sig := Signature(stats)

	prev, err := s.client.Get(ctx, signatureKey).Result()
	if err != nil && err != redis.Nil {
		return false, errors.Wrap(errors.ErrCodeStoreReadFailed, "signature read failed", err)
	}
	if prev == sig {
		s.logger.Debug("cycle unchanged, skipping log write", map[string]interface{}{
			"cycleId": stats.CycleID,
		})
		return false, nil
	}

	summary := formatSummary(stats)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, summaryListKey, summary)
	pipe.LTrim(ctx, summaryListKey, 0, s.summaryCapacity-1)
	pipe.Set(ctx, signatureKey, sig, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(errors.ErrCodeStoreWriteFailed, "summary write failed", err)
	}

	if err := s.appendDetails(ctx, stats); err != nil {
		// Detail loss is tolerable; the summary is already durable.
		s.logger.Warn("detail write failed", map[string]interface{}{"error": err.Error()})
	}

	s.indexVerdicts(ctx, stats)
	return true, nil
}

// Summaries returns retained summaries, newest first.
func (s *Store) Summaries(ctx context.Context) ([]string, error) {
	out, err := s.client.LRange(ctx, summaryListKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "summary read failed", err)
	}
	return out, nil
}

// Details returns retained per-lead detail blocks, newest first.
func (s *Store) Details(ctx context.Context) ([]string, error) {
	out, err := s.client.LRange(ctx, detailListKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStoreReadFailed, "detail read failed", err)
	}
	return out, nil
}

func (s *Store) appendDetails(ctx context.Context, stats models.CycleStats) error {
	if len(stats.Verdicts) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, v := range stats.Verdicts {
		block := fmt.Sprintf("[%s] lead %s: passed=%t reason=%q delay=%dm",
			stats.CompletedAt.Format(time.RFC3339), v.LeadID, v.Passed, v.Reason, v.DelayMinutes)
		pipe.LPush(ctx, detailListKey, block)
	}
	pipe.LTrim(ctx, detailListKey, 0, s.detailCapacity-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) indexVerdicts(ctx context.Context, stats models.CycleStats) {
	if s.indexer == nil {
		return
	}
	for _, v := range stats.Verdicts {
		doc, err := json.Marshal(map[string]interface{}{
			"cycleId":     stats.CycleID,
			"leadId":      v.LeadID,
			"passed":      v.Passed,
			"reason":      v.Reason,
			"completedAt": stats.CompletedAt,
		})
		if err != nil {
			continue
		}
		docID := stats.CycleID + ":" + v.LeadID
		if err := s.indexer.Index(ctx, s.auditIndex, docID, doc); err != nil {
			s.logger.Warn("verdict audit indexing failed", map[string]interface{}{
				"leadId": v.LeadID,
				"error":  err.Error(),
			})
			return
		}
	}
}

func formatSummary(stats models.CycleStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] cycle %s: %d scraped, %d qualified",
		stats.CompletedAt.Format(time.RFC3339), stats.CycleID, stats.Total, stats.Qualified)
	if stats.Contacted > 0 || stats.ContactsFailed > 0 {
		fmt.Fprintf(&b, ", %d contacted, %d failed", stats.Contacted, stats.ContactsFailed)
	}
	if len(stats.QualifiedIDs) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(stats.QualifiedIDs, ", "))
	}
	return b.String()
}
