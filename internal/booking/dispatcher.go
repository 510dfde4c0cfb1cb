package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fitclub/ClubAssist/internal/models"
	"github.com/fitclub/ClubAssist/internal/sheets"
)

// User-facing booking outcome messages.
const (
	// SaveFailedMessage is reported when the spreadsheet write fails.
	SaveFailedMessage = "Извините, произошла ошибка при сохранении записи. Пожалуйста, попробуйте позже или свяжитесь с нами по телефону."
	// AcceptedFallbackMessage is the best-effort acknowledgement used when
	// the user's data was collected but no persistence backend is available
	// to save it.
	AcceptedFallbackMessage = "Заявка принята! Мы свяжемся с вами для подтверждения."
)

// Notifier delivers operator notifications (implemented by telegram.Client).
type Notifier interface {
	NotifyOperator(ctx context.Context, text string) error
}

// Dispatcher is the one supported side effect: persist a booking and notify
// the operator. It is invoked both from the scripted form completion and
// from the assistant's save_booking_data tool call.
type Dispatcher struct {
	appender sheets.Appender
	notifier Notifier
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. Either dependency may be nil: a nil
// appender degrades every save to failure (booking persistence not
// configured), a nil notifier skips notifications.
func NewDispatcher(appender sheets.Appender, notifier Notifier) *Dispatcher {
	return &Dispatcher{appender: appender, notifier: notifier, now: time.Now}
}

// Configured reports whether the dispatcher has a persistence backend to
// save bookings into. Callers use it to pick between the save-failed and
// accepted-without-save outcomes.
func (d *Dispatcher) Configured() bool {
	return d != nil && d.appender != nil
}

// SaveBooking appends the booking to the spreadsheet and, on success, sends
// the operator notification. The operation is not transactional: a failed
// notification does not revert a successful write, and a failed write skips
// the notification entirely. The returned flag is the overall outcome the
// caller reports to the end user.
func (d *Dispatcher) SaveBooking(ctx context.Context, b models.Booking, source models.BookingSource) bool {
	if d.appender == nil {
		slog.Warn("Dispatcher.SaveBooking: sheets backend not configured, booking not persisted", "source", source)
		return false
	}

	b.CreatedAt = d.now()
	slog.Info("Dispatcher.SaveBooking: persisting booking", "source", source, "service", b.Service)

	if err := d.appender.AppendBooking(ctx, b); err != nil {
		slog.Error("Dispatcher.SaveBooking: append failed", "error", err, "source", source)
		return false
	}

	if d.notifier != nil {
		if err := d.notifier.NotifyOperator(ctx, operatorText(b, source)); err != nil {
			// Notification failure does not change the overall outcome.
			slog.Error("Dispatcher.SaveBooking: operator notification failed", "error", err, "source", source)
		}
	}
	return true
}

// operatorText composes the human-readable operator notification.
func operatorText(b models.Booking, source models.BookingSource) string {
	comment := b.Comment
	if comment == "" {
		comment = "Нет"
	}
	return fmt.Sprintf(`🤖 НОВАЯ ЗАЯВКА через %s!

👤 Имя: %s
📞 Телефон: %s
💅 Услуга: %s
📅 Дата: %s
👨‍🎨 Мастер: %s
💬 Комментарий: %s
⏰ Время: %s`,
		source, b.Name, b.Phone, b.Service, b.Date, b.Master, comment,
		b.CreatedAt.Format("2006-01-02 15:04:05"))
}

// ConfirmationText composes the end-user confirmation shown after a
// successful save from the scripted form.
func ConfirmationText(b models.Booking) string {
	return fmt.Sprintf(`Отлично! Ваша заявка принята:

Имя: %s
Телефон: %s
Услуга: %s
Дата: %s
Мастер: %s

Мы свяжемся с вами в ближайшее время для подтверждения записи!`,
		b.Name, b.Phone, b.Service, b.Date, b.Master)
}
