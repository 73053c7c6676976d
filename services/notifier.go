package services

import (
	"context"
	"time"

	"github.com/lborres/kasal/core"
	"go.uber.org/zap"
)

// LogNotifier records password reset tokens in the log instead of
// delivering them. Deployments that send mail provide their own
// core.ResetNotifier.
type LogNotifier struct {
	logger *zap.Logger
}

var _ core.ResetNotifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyPasswordReset(_ context.Context, user *core.User, token string, expiresAt time.Time) error {
	n.logger.Info("password reset issued",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("token", token),
		zap.Time("expires_at", expiresAt))
	return nil
}
