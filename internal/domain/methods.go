package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PaymentMethodKind names a gateway.
type PaymentMethodKind string

const (
	MethodPayPal PaymentMethodKind = "paypal"
	MethodWise   PaymentMethodKind = "wise"
	MethodMPesa  PaymentMethodKind = "mpesa"
)

// ParsePaymentMethodKind validates a gateway name.
func ParsePaymentMethodKind(s string) (PaymentMethodKind, error) {
	switch PaymentMethodKind(strings.ToLower(strings.TrimSpace(s))) {
	case MethodPayPal:
		return MethodPayPal, nil
	case MethodWise:
		return MethodWise, nil
	case MethodMPesa:
		return MethodMPesa, nil
	}
	return "", ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", s)}
}

// PayoutMethod is the destination of an expert payout. Exactly one of the
// concrete variants PayPal, Wise or MPesa.
type PayoutMethod interface {
	Kind() PaymentMethodKind
	// Recipient is the provider-specific account identifier.
	Recipient() string
	isPayoutMethod()
}

type PayPal struct {
	Email string `json:"email"`
}

type Wise struct {
	AccountID string `json:"account_id"`
}

type MPesa struct {
	Phone string `json:"phone"`
}

func (PayPal) Kind() PaymentMethodKind { return MethodPayPal }
func (p PayPal) Recipient() string     { return p.Email }
func (PayPal) isPayoutMethod()         {}
func (Wise) Kind() PaymentMethodKind   { return MethodWise }
func (w Wise) Recipient() string       { return w.AccountID }
func (Wise) isPayoutMethod()           {}
func (MPesa) Kind() PaymentMethodKind  { return MethodMPesa }
func (m MPesa) Recipient() string      { return m.Phone }
func (MPesa) isPayoutMethod()          {}

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
)

// NewPayoutMethod builds and validates a payout destination.
func NewPayoutMethod(kind PaymentMethodKind, recipient string) (PayoutMethod, error) {
	recipient = strings.TrimSpace(recipient)
	switch kind {
	case MethodPayPal:
		if !emailRe.MatchString(recipient) {
			return nil, ValidationError{Field: "email", Message: "valid PayPal email required"}
		}
		return PayPal{Email: recipient}, nil
	case MethodWise:
		if recipient == "" {
			return nil, ValidationError{Field: "account_id", Message: "Wise account id required"}
		}
		return Wise{AccountID: recipient}, nil
	case MethodMPesa:
		if !phoneRe.MatchString(recipient) {
			return nil, ValidationError{Field: "phone", Message: "valid M-Pesa phone number required"}
		}
		return MPesa{Phone: recipient}, nil
	}
	return nil, ValidationError{Field: "method", Message: fmt.Sprintf("unknown payout method %q", kind)}
}

type payoutMethodJSON struct {
	Kind      PaymentMethodKind `json:"kind"`
	Email     string            `json:"email,omitempty"`
	AccountID string            `json:"account_id,omitempty"`
	Phone     string            `json:"phone,omitempty"`
}

// MarshalPayoutMethod renders the tagged form {"kind":..., <field>:...}.
func MarshalPayoutMethod(m PayoutMethod) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	out := payoutMethodJSON{Kind: m.Kind()}
	switch v := m.(type) {
	case PayPal:
		out.Email = v.Email
	case Wise:
		out.AccountID = v.AccountID
	case MPesa:
		out.Phone = v.Phone
	}
	return json.Marshal(out)
}

// UnmarshalPayoutMethod parses the tagged form produced by MarshalPayoutMethod.
func UnmarshalPayoutMethod(data []byte) (PayoutMethod, error) {
	var in payoutMethodJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, err
	}
	switch in.Kind {
	case MethodPayPal:
		return NewPayoutMethod(in.Kind, in.Email)
	case MethodWise:
		return NewPayoutMethod(in.Kind, in.AccountID)
	case MethodMPesa:
		return NewPayoutMethod(in.Kind, in.Phone)
	}
	return nil, ValidationError{Field: "kind", Message: fmt.Sprintf("unknown payout method %q", in.Kind)}
}

func (p Payout) MarshalJSON() ([]byte, error) {
	type alias Payout
	method, err := MarshalPayoutMethod(p.Method)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Method json.RawMessage `json:"payout_method"`
	}{alias: alias(p), Method: method})
}

func (m ExpertPaymentMethod) MarshalJSON() ([]byte, error) {
	type alias ExpertPaymentMethod
	method, err := MarshalPayoutMethod(m.Method)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		alias
		Method json.RawMessage `json:"method"`
	}{alias: alias(m), Method: method})
}

func (p *Payout) UnmarshalJSON(data []byte) error {
	type alias Payout
	aux := struct {
		*alias
		Method json.RawMessage `json:"payout_method"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Method) == 0 || string(aux.Method) == "null" {
		p.Method = nil
		return nil
	}
	m, err := UnmarshalPayoutMethod(aux.Method)
	if err != nil {
		return err
	}
	p.Method = m
	return nil
}

func (m *ExpertPaymentMethod) UnmarshalJSON(data []byte) error {
	type alias ExpertPaymentMethod
	aux := struct {
		*alias
		Method json.RawMessage `json:"method"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Method) == 0 || string(aux.Method) == "null" {
		m.Method = nil
		return nil
	}
	pm, err := UnmarshalPayoutMethod(aux.Method)
	if err != nil {
		return err
	}
	m.Method = pm
	return nil
}
