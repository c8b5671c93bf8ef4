package otp

import (
	"context"
	"log/slog"
	"strings"
)

// Sender delivers a one-time code over a channel. Real email/SMS gateways
// are out of scope for this service; production wiring plugs a provider
// implementation in here, and everything else stays unchanged.
type Sender interface {
	SendCode(ctx context.Context, ch Channel, destination, code string) error
}

// LogSender is the development stub: it logs the masked destination and
// the code instead of delivering anything.
type LogSender struct{}

// NewLogSender creates the stub sender.
func NewLogSender() *LogSender {
	return &LogSender{}
}

// SendCode logs the would-be delivery. The code itself is logged at debug
// level only, so production log levels never capture it.
func (s *LogSender) SendCode(ctx context.Context, ch Channel, destination, code string) error {
	slog.Info("otp send (stub)",
		slog.String("channel", ch.String()),
		slog.String("destination", MaskDestination(ch, destination)),
	)
	slog.Debug("otp code (stub delivery)", slog.String("code", code))
	return nil
}

// MaskDestination hides most of an email address or phone number for
// responses and logs: "jane.doe@example.com" -> "j******e@example.com",
// "5551234567" -> "******4567".
func MaskDestination(ch Channel, destination string) string {
	if ch == ChannelEmail {
		at := strings.LastIndex(destination, "@")
		if at <= 0 {
			return "***"
		}
		local, domain := destination[:at], destination[at:]
		if len(local) <= 2 {
			return strings.Repeat("*", len(local)) + domain
		}
		return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + domain
	}

	if len(destination) <= 4 {
		return strings.Repeat("*", len(destination))
	}
	return strings.Repeat("*", len(destination)-4) + destination[len(destination)-4:]
}
