// internal/contact/bridge.go
package contact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"leadpilot/internal/common/errors"
	"leadpilot/internal/common/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	actionChannel  = "leadpilot:actions"
	replyKeyPrefix = "leadpilot:actions:reply:"

	// agentCodeBalanceExhausted is the typed code the agent sets when the
	// portal reports the contact quota is spent.
	agentCodeBalanceExhausted = "balance_exhausted"
)

// actionRequest is one element operation sent to the page-side agent.
type actionRequest struct {
	ID   string `json:"id"`
	Op   string `json:"op"`
	Pos  int    `json:"pos,omitempty"`
	Kind string `json:"kind,omitempty"`
	Ref  string `json:"ref,omitempty"`
	Text string `json:"text,omitempty"`
}

// actionReply is the agent's answer, pushed onto the per-request reply key.
// Code carries the agent's typed failure kind alongside the free-form Error
// text; today only balance_exhausted is recognized.
type actionReply struct {
	Found bool   `json:"found"`
	Ref   string `json:"ref,omitempty"`
	Value string `json:"value,omitempty"`
	Seen  bool   `json:"seen,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

// Bridge implements Adapter by relaying element operations to the
// page-side agent over redis: requests on a pub/sub channel, replies via
// BLPOP on a per-request list. Handles are the agent's opaque element refs.
type Bridge struct {
	client  *redis.Client
	logger  logger.Logger
	timeout time.Duration
}

func NewBridge(client *redis.Client, timeout time.Duration, log logger.Logger) *Bridge {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Bridge{
		client:  client,
		logger:  log.WithFields(map[string]interface{}{"component": "contact-bridge"}),
		timeout: timeout,
	}
}

func (b *Bridge) call(ctx context.Context, req actionRequest) (*actionReply, error) {
	req.ID = uuid.NewString()
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if err := b.client.Publish(ctx, actionChannel, data).Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeActionTargetNotFound, "action publish failed", err)
	}

	res, err := b.client.BLPop(ctx, b.timeout, replyKeyPrefix+req.ID).Result()
	if err == redis.Nil {
		return nil, errors.New(errors.ErrCodeActionTargetNotFound,
			fmt.Sprintf("agent did not answer %s in time", req.Op))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeActionTargetNotFound, "action reply read failed", err)
	}

	// BLPOP returns [key, value].
	var reply actionReply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return nil, errors.Wrap(errors.ErrCodeActionTargetNotFound, "action reply corrupt", err)
	}
	if reply.Error != "" {
		if reply.Code == agentCodeBalanceExhausted {
			return nil, errors.New(errors.ErrCodeBalanceExhausted, reply.Error)
		}
		return nil, errors.New(errors.ErrCodeActionTargetNotFound, reply.Error)
	}
	return &reply, nil
}

func (b *Bridge) LocateLead(ctx context.Context, sourcePosition int) (Handle, error) {
	reply, err := b.call(ctx, actionRequest{Op: "locate_lead", Pos: sourcePosition})
	if err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return reply.Ref, nil
}

func (b *Bridge) LocateAction(ctx context.Context, kind Kind, lead Handle) (Handle, error) {
	reply, err := b.call(ctx, actionRequest{Op: "locate_action", Kind: string(kind), Ref: ref(lead)})
	if err != nil {
		return nil, err
	}
	if !reply.Found {
		return nil, nil
	}
	return reply.Ref, nil
}

func (b *Bridge) Invoke(ctx context.Context, h Handle) error {
	_, err := b.call(ctx, actionRequest{Op: "invoke", Ref: ref(h)})
	return err
}

func (b *Bridge) FieldValue(ctx context.Context, h Handle) (string, error) {
	reply, err := b.call(ctx, actionRequest{Op: "field_value", Ref: ref(h)})
	if err != nil {
		return "", err
	}
	return reply.Value, nil
}

func (b *Bridge) SetFieldValue(ctx context.Context, h Handle, text string) error {
	_, err := b.call(ctx, actionRequest{Op: "set_field", Ref: ref(h), Text: text})
	return err
}

func (b *Bridge) RejectionSeen(ctx context.Context) (bool, error) {
	reply, err := b.call(ctx, actionRequest{Op: "rejection_seen"})
	if err != nil {
		return false, err
	}
	return reply.Seen, nil
}

func (b *Bridge) ConfirmationSeen(ctx context.Context) (bool, error) {
	reply, err := b.call(ctx, actionRequest{Op: "confirmation_seen"})
	if err != nil {
		return false, err
	}
	return reply.Seen, nil
}

func ref(h Handle) string {
	if s, ok := h.(string); ok {
		return s
	}
	return ""
}
