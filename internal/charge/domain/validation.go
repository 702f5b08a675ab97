package domain

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	fields := make([]string, len(v))
	for i, fe := range v {
		fields[i] = fe.Field
	}
	return "invalid charge request: " + strings.Join(fields, ", ")
}

// Validate checks the wire-level constraints of a create request.
func (r CreateChargeRequest) Validate() error {
	var errs ValidationErrors
	if r.Amount <= 0 {
		errs = append(errs, FieldError{Field: "amount", Code: "invalid_amount", Message: "must be a positive integer in cents"})
	}
	if r.Currency != "BRL" {
		errs = append(errs, FieldError{Field: "currency", Code: "invalid_currency", Message: "must be BRL"})
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.Customer.Name)) < 2 {
		errs = append(errs, FieldError{Field: "customer.name", Code: "invalid_customer_name", Message: "must be at least 2 characters"})
	}
	if !strings.Contains(r.Customer.Email, "@") {
		errs = append(errs, FieldError{Field: "customer.email", Code: "invalid_customer_email", Message: "must be a valid email"})
	}
	if r.PaymentMethod.Type != "card" {
		errs = append(errs, FieldError{Field: "payment_method.type", Code: "invalid_payment_method_type", Message: "must be card"})
	}
	if len(r.PaymentMethod.Token) < 6 {
		errs = append(errs, FieldError{Field: "payment_method.token", Code: "invalid_payment_method_token", Message: "must be at least 6 characters"})
	}
	if !validWebhookURL(r.WebhookURL) {
		errs = append(errs, FieldError{Field: "webhook_url", Code: "invalid_webhook_url", Message: "must be a valid http or https URL"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validWebhookURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// CardLast4 extracts the stored suffix of a card token, left-padded with
// zeros for short tokens.
func CardLast4(token string) string {
	if len(token) >= 4 {
		return token[len(token)-4:]
	}
	return strings.Repeat("0", 4-len(token)) + token
}
