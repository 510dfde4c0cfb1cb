// Package booking implements the scripted booking form and the side-effect
// dispatcher that persists completed bookings and notifies the operator.
package booking

import (
	"log/slog"
	"sync"

	"github.com/fitclub/ClubAssist/internal/models"
)

// Mode distinguishes the two per-chat conversation modes.
type Mode string

const (
	// ModeBooking runs the scripted multi-step booking form.
	ModeBooking Mode = "booking"
	// ModeConsult forwards messages to the assistant.
	ModeConsult Mode = "consult"
)

// Step identifies the field the booking form is currently collecting.
type Step string

const (
	StepName    Step = "name"
	StepPhone   Step = "phone"
	StepService Step = "service"
	StepDate    Step = "date"
	StepMaster  Step = "master"
	StepComment Step = "comment"
)

// Prompts shown for each form step. Inputs are taken verbatim; there is no
// format validation beyond the non-empty check.
const (
	PromptName    = "Пожалуйста, введите ваше имя:"
	PromptPhone   = "Введите ваш номер телефона:"
	PromptService = "Какую услугу хотите получить?"
	PromptDate    = "Когда вам удобно прийти? (например, завтра в 14:00)"
	PromptMaster  = "Выберите категорию мастера:\n1. Тренер\n2. Персональный тренер\n3. Ведущий тренер\n4. Эксперт"
	PromptComment = "Добавьте комментарий или пожелания (или отправьте «-», если их нет):"

	// PromptConsult opens the free-form consultation mode.
	PromptConsult = "Задайте ваш вопрос по услугам клуба:"
)

// State is the per-chat form state. Booking fields are filled one step per
// inbound message, in fixed step order.
type State struct {
	Mode    Mode
	Step    Step
	Booking models.Booking
}

// FormStore owns the per-chat form states behind a single mutex. Forms are
// created on explicit commands only and removed on completion; there is no
// abandonment timeout.
type FormStore struct {
	mu     sync.Mutex
	states map[int64]*State
}

// NewFormStore creates an empty form store.
func NewFormStore() *FormStore {
	return &FormStore{states: make(map[int64]*State)}
}

// StartBooking enters the scripted booking flow for chatID, replacing any
// previous state, and returns the first prompt.
func (f *FormStore) StartBooking(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[chatID] = &State{Mode: ModeBooking, Step: StepName}
	slog.Debug("FormStore.StartBooking: booking form started", "chatID", chatID)
	return PromptName
}

// StartConsult enters the free-form consultation mode for chatID, replacing
// any previous state, and returns the opening prompt.
func (f *FormStore) StartConsult(chatID int64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[chatID] = &State{Mode: ModeConsult}
	slog.Debug("FormStore.StartConsult: consult mode started", "chatID", chatID)
	return PromptConsult
}

// Mode reports the current mode for chatID, if any state exists.
func (f *FormStore) Mode(chatID int64) (Mode, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[chatID]
	if !ok {
		return "", false
	}
	return st.Mode, true
}

// Delete removes the state for chatID.
func (f *FormStore) Delete(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, chatID)
}

// Len reports the number of open form states.
func (f *FormStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states)
}

// Advance feeds one inbound message into the booking form for chatID.
// It returns the next prompt to show, or the completed booking once the
// comment step is answered. On completion the state is removed before the
// booking is returned, so the save is attempted at most once regardless of
// its outcome. ok is false when chatID has no booking form open.
func (f *FormStore) Advance(chatID int64, text string) (reply string, completed *models.Booking, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	st, exists := f.states[chatID]
	if !exists || st.Mode != ModeBooking {
		return "", nil, false
	}

	// Empty input re-prompts; only the comment may be left blank.
	if text == "" && st.Step != StepComment {
		return promptFor(st.Step), nil, true
	}

	switch st.Step {
	case StepName:
		st.Booking.Name = text
		st.Step = StepPhone
		return PromptPhone, nil, true
	case StepPhone:
		st.Booking.Phone = text
		st.Step = StepService
		return PromptService, nil, true
	case StepService:
		st.Booking.Service = text
		st.Step = StepDate
		return PromptDate, nil, true
	case StepDate:
		st.Booking.Date = text
		st.Step = StepMaster
		return PromptMaster, nil, true
	case StepMaster:
		st.Booking.Master = text
		st.Step = StepComment
		return PromptComment, nil, true
	case StepComment:
		if text != "-" {
			st.Booking.Comment = text
		}
		b := st.Booking
		delete(f.states, chatID)
		slog.Info("FormStore.Advance: booking form completed", "chatID", chatID)
		return "", &b, true
	default:
		slog.Warn("FormStore.Advance: unknown form step, resetting", "chatID", chatID, "step", st.Step)
		delete(f.states, chatID)
		return "", nil, false
	}
}

func promptFor(step Step) string {
	switch step {
	case StepName:
		return PromptName
	case StepPhone:
		return PromptPhone
	case StepService:
		return PromptService
	case StepDate:
		return PromptDate
	case StepMaster:
		return PromptMaster
	case StepComment:
		return PromptComment
	}
	return PromptName
}
