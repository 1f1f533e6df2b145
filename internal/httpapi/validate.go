package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/whisper/santa/internal/protocol"
)

type createEventRequest struct {
	Name           string `json:"name" validate:"required,max=200"`
	OrganizerEmail string `json:"organizer_email" validate:"required,email"`
	BudgetCents    int64  `json:"budget_cents" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required,len=3,alpha"`
	ExchangeDate   string `json:"exchange_date" validate:"omitempty,datetime=2006-01-02"`
}

type participantRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	Name     string   `json:"name" validate:"required,max=100"`
	Phone    string   `json:"phone" validate:"omitempty,e164"`
	Channels []string `json:"channels" validate:"omitempty,dive,oneof=email sms whatsapp"`
	Wishlist string   `json:"wishlist" validate:"max=2000"`
}

type restrictionRequest struct {
	Giver    string `json:"giver" validate:"required,email"`
	Receiver string `json:"receiver" validate:"required,email"`
}

type drawRequest struct {
	RequestedBy string `json:"requested_by" validate:"omitempty,email"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateParticipant, participantRequest{})
	return v
}

// validateParticipant requires a phone number for phone-based channels.
func validateParticipant(sl validator.StructLevel) {
	p := sl.Current().Interface().(participantRequest)
	needsPhone := lo.ContainsBy(p.Channels, func(ch string) bool {
		return ch == protocol.ChannelSMS || ch == protocol.ChannelWhatsApp
	})
	if needsPhone && p.Phone == "" {
		sl.ReportError(p.Phone, "phone", "Phone", "required_for_channel", "")
	}
}

// validationMessage flattens validator errors into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	return strings.Join(lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Param() != "" {
			return fmt.Sprintf("%s: failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag())
	}), "; ")
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
