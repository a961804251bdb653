package domain

import "time"

// PendingCardMask marks a payment method whose save-card checkout has not
// reported back yet.
const PendingCardMask = "PENDING"

// PaymentMethod is a saved card. Token holds the external order id while the
// card is pending and the sealed provider token once finalized.
type PaymentMethod struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Token       string    `json:"-"`
	Mask        string    `json:"mask"`
	Brand       string    `json:"brand,omitempty"`
	Last4       string    `json:"last4,omitempty"`
	ExpiryMonth int       `json:"expiryMonth,omitempty"`
	ExpiryYear  int       `json:"expiryYear,omitempty"`
	IsDefault   bool      `json:"isDefault"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// IsPending reports whether the card is still a placeholder.
func (m *PaymentMethod) IsPending() bool {
	return m.Mask == PendingCardMask
}

// CardDetails are the fields a success callback fills in.
type CardDetails struct {
	Token       string
	Mask        string
	Brand       string
	Last4       string
	ExpiryMonth int
	ExpiryYear  int
}

// SaveCardRequest is the input for starting a save-card checkout.
type SaveCardRequest struct {
	SuccessURL string `json:"successUrl,omitempty" validate:"omitempty,url"`
	FailURL    string `json:"failUrl,omitempty" validate:"omitempty,url"`
}

// SaveCardResponse returns the hosted page that collects the card.
type SaveCardResponse struct {
	CheckoutURL     string `json:"checkoutUrl"`
	OrderID         string `json:"orderId"`
	PaymentMethodID string `json:"paymentMethodId"`
}
