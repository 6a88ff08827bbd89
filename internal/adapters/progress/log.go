package progress

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/WalletPulseAI/walletpulse/internal/core/domain"
)

// LogSink reports progress through the logger. Used for CLI runs and as the
// fallback when no notification endpoint is configured.
type LogSink struct {
	log *logrus.Logger
}

var _ domain.ProgressSink = (*LogSink)(nil)

func NewLogSink(log *logrus.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, wallet string, p domain.Progress) {
	s.log.WithFields(logrus.Fields{
		"wallet":  wallet,
		"stage":   p.Stage,
		"percent": p.Percent,
	}).Info(p.Message)
}

func (s *LogSink) Complete(_ context.Context, wallet string, summary domain.Summary) {
	s.log.WithFields(logrus.Fields{
		"wallet":    wallet,
		"total_pnl": summary.TotalPnL,
		"win_rate":  summary.WinRate,
	}).Info("analysis complete")
}

func (s *LogSink) Fail(_ context.Context, wallet string, reason, message string) {
	s.log.WithFields(logrus.Fields{
		"wallet": wallet,
		"reason": reason,
	}).Error(message)
}
