// Package notify delivers reminder messages over the configured channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vetclinic/internal/domain"
	"vetclinic/internal/models"
)

var ErrUnsupportedChannel = errors.New("unsupported channel")

// TemplateData is the booking snapshot a reminder message is rendered from.
type TemplateData struct {
	BookingID    int64              `json:"booking_id"`
	ClientName   string             `json:"client_name"`
	PetName      string             `json:"pet_name"`
	EmployeeName string             `json:"employee_name"`
	ServiceType  models.ServiceType `json:"service_type"`
	StartAt      time.Time          `json:"start_at"`
}

type Notifier interface {
	Notify(ctx context.Context, channel models.Channel, recipient string, data TemplateData) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, channel models.Channel, recipient string, data TemplateData) error

func (f NotifierFunc) Notify(ctx context.Context, channel models.Channel, recipient string, data TemplateData) error {
	return f(ctx, channel, recipient, data)
}

// Router dispatches to the notifier registered for each channel.
type Router struct {
	routes   map[models.Channel]Notifier
	fallback Notifier
}

func NewRouter() *Router {
	return &Router{routes: make(map[models.Channel]Notifier)}
}

func (r *Router) Handle(channel models.Channel, n Notifier) *Router {
	r.routes[channel] = n
	return r
}

// Fallback receives channels without a dedicated notifier.
func (r *Router) Fallback(n Notifier) *Router {
	r.fallback = n
	return r
}

func (r *Router) Notify(ctx context.Context, channel models.Channel, recipient string, data TemplateData) error {
	n, ok := r.routes[channel]
	if !ok {
		n = r.fallback
	}
	if n == nil {
		return &domain.NotifyError{Channel: channel, Recipient: recipient, Err: ErrUnsupportedChannel}
	}
	if err := n.Notify(ctx, channel, recipient, data); err != nil {
		var nerr *domain.NotifyError
		if errors.As(err, &nerr) {
			return err
		}
		return &domain.NotifyError{Channel: channel, Recipient: recipient, Err: err}
	}
	return nil
}

// LabelFunc resolves a service type to display text.
type LabelFunc func(models.ServiceType) string

// RenderText builds the plain-text reminder body shared by text channels.
func RenderText(data TemplateData, label LabelFunc, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	service := string(data.ServiceType)
	if label != nil {
		service = label(data.ServiceType)
	}
	text := fmt.Sprintf("Reminder: %s for %s on %s",
		service, data.PetName, data.StartAt.In(loc).Format("Mon 02 Jan 2006 15:04"))
	if data.EmployeeName != "" {
		text += " with " + data.EmployeeName
	}
	return text + fmt.Sprintf(" (booking #%d).", data.BookingID)
}
