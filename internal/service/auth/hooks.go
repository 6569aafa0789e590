package auth

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/logger"
)

type Operation string

const (
	OpRegister     Operation = "register"
	OpLogin        Operation = "login"
	OpRefresh      Operation = "refresh"
	OpLogout       Operation = "logout"
	OpLogoutAll    Operation = "logout_all"
	OpAuthenticate Operation = "authenticate"
)

// Event describes one finished service call
// It never carries passwords or tokens
type Event struct {
	Op       Operation
	UserID   uuid.UUID // uuid.Nil when user is not known
	Started  time.Time
	Duration time.Duration

	// Refresh token that had already been used was presented
	ReuseDetected bool

	// Set for failed calls only
	Err *apperrors.DomainError
}

// Hook observes service calls
// Before is called on entry, exactly one of After or OnError on exit
type Hook interface {
	Before(ctx context.Context, op Operation)
	After(ctx context.Context, e Event)
	OnError(ctx context.Context, e Event)
}

// Audit log hook
// Authentication failures are logged with internal cause: clients only see unified error
type LogHook struct {
	logger logger.Logger
}

func NewLogHook(l logger.Logger) *LogHook {
	return &LogHook{logger: l.WithGroup("auth")}
}

func (h *LogHook) Before(_ context.Context, op Operation) {
	h.logger.Debug("call started", "op", op)
}

func (h *LogHook) After(_ context.Context, e Event) {
	h.logger.Info("call succeeded", "op", e.Op, "user_id", e.UserID, "duration", e.Duration)
}

func (h *LogHook) OnError(_ context.Context, e Event) {
	args := []any{
		"op", e.Op,
		"user_id", e.UserID,
		"duration", e.Duration,
		"code", e.Err.Code,
		"cause", e.Err.Unwrap(),
	}

	switch {
	case e.ReuseDetected:
		h.logger.Warn("refresh token reuse detected, user sessions revoked", args...)
	case e.Err.Status() >= 500:
		h.logger.Error("call failed", args...)
	case e.Err.Kind == apperrors.KindAuthentication:
		h.logger.Warn("authentication failed", args...)
	default:
		h.logger.Info("call rejected", args...)
	}
}

// call tracks one service call and notifies hooks
type call struct {
	hooks []Hook
	event Event
	now   func() time.Time
}

func (s *AuthService) begin(ctx context.Context, op Operation) *call {
	for _, h := range s.hooks {
		h.Before(ctx, op)
	}
	return &call{
		hooks: s.hooks,
		event: Event{Op: op, Started: s.now()},
		now:   s.now,
	}
}

// end converts err to DomainError and notifies hooks
// Returned error is nil or *apperrors.DomainError
func (c *call) end(ctx context.Context, err error) error {
	c.event.Duration = c.now().Sub(c.event.Started)

	if err == nil {
		for _, h := range c.hooks {
			h.After(ctx, c.event)
		}
		return nil
	}

	c.event.Err = apperrors.FromError(err)
	for _, h := range c.hooks {
		h.OnError(ctx, c.event)
	}
	return c.event.Err
}
