package payment

import (
	"fmt"
	"strings"

	"github.com/reviewdesk/backend/pkg/crypto"
)

// Recurring intervals understood by the gateway.
const (
	IntervalWeek  = "WEEK"
	IntervalMonth = "MONTH"
)

// Envelope is the wire shape of every sealed request and reply.
type Envelope struct {
	Identifier    string `json:"identifier,omitempty"`
	EncryptedData string `json:"encryptedData"`
	EncryptedKeys string `json:"encryptedKeys"`
	AES           bool   `json:"aes"`
}

// IsSealed reports whether both encrypted fields are present.
func (e Envelope) IsSealed() bool {
	return e.EncryptedData != "" && e.EncryptedKeys != ""
}

func (e Envelope) sealed() crypto.Sealed {
	return crypto.Sealed{Data: e.EncryptedData, Key: e.EncryptedKeys}
}

// Recurring describes the plan the gateway charges after the zero-amount
// authorization.
type Recurring struct {
	Interval      string `json:"interval"`
	IntervalCount int    `json:"intervalCount"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

// OrderRequest is the plaintext order sent inside an Envelope.
type OrderRequest struct {
	ExternalOrderID string            `json:"externalOrderId"`
	Amount          string            `json:"amount"`
	Currency        string            `json:"currency"`
	ReceiverID      string            `json:"receiverId"`
	IntegratorID    string            `json:"integratorId"`
	Description     string            `json:"description,omitempty"`
	SaveCard        bool              `json:"saveCard,omitempty"`
	Recurring       *Recurring        `json:"recurring,omitempty"`
	SuccessURL      string            `json:"successUrl"`
	FailURL         string            `json:"failUrl"`
	CallbackURL     string            `json:"callbackUrl"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// OrderResponse is the decoded gateway reply to an order request.
type OrderResponse struct {
	CheckoutURL string
	Padding     crypto.Padding
	Raw         map[string]any
}

// FormatAmount renders minor units as a decimal string, e.g. 7900 -> "79.00".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

var checkoutURLKeys = []string{"checkoutUrl", "checkoutURL", "paymentUrl", "redirectUrl", "url"}

func checkoutURL(payload map[string]any) string {
	for _, k := range checkoutURLKeys {
		if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if nested, ok := payload["data"].(map[string]any); ok {
		return checkoutURL(nested)
	}
	return ""
}
