// Package notify is the delivery side of the scheduler: one recipient, one
// message, one independently failing call.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "cfbot/internal/transport"
	logx "cfbot/pkg/logx"
)

// Sink delivers a message to a single recipient. Failures are per-call: the
// scheduler logs them and moves on, they are never fatal to a cycle.
type Sink interface {
	Send(ctx context.Context, recipient int64, text string) error
}

type Config struct {
	// RatePerSec caps outgoing sends (Telegram flood control). Default 3.
	RatePerSec int
	// SendTimeout bounds one delivery call so a single unreachable recipient
	// cannot stall the cycle. Default 10s.
	SendTimeout time.Duration
}

// TelegramSink sends through the transport adapter.
type TelegramSink struct {
	adapter kit.Adapter
	log     logx.Logger

	limiter *rate.Limiter
	timeout time.Duration
}

func NewTelegramSink(cfg Config, adapter kit.Adapter, log logx.Logger) *TelegramSink {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 3
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TelegramSink{
		adapter: adapter,
		log:     log,
		// Token bucket: burst = rate per sec, so short spikes don't block too hard.
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
	}
}

// Send waits for a rate token, then performs exactly one delivery attempt.
// There is no retry here: the poll cadence is the retry (a contest still in
// its reminder window is re-sent next cycle anyway).
func (s *TelegramSink) Send(ctx context.Context, recipient int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.adapter.SendText(sctx, kit.ChatTarget{ChatID: recipient}, text, nil)
	return err
}
