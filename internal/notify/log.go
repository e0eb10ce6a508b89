package notify

import (
	"context"

	"vetclinic/internal/models"

	"github.com/rs/zerolog"
)

// LogNotifier writes reminders to the log instead of delivering them.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, channel models.Channel, recipient string, data TemplateData) error {
	n.logger.Info().
		Str("channel", string(channel)).
		Str("recipient", recipient).
		Int64("booking_id", data.BookingID).
		Str("service_type", string(data.ServiceType)).
		Time("start_at", data.StartAt).
		Msg("reminder")
	return nil
}
