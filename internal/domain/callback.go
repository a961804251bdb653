package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Callback is a gateway notification after decoding, with the provider's
// field name variants folded together.
type Callback struct {
	OrderID                string
	Status                 string
	ProviderSubscriptionID string
	Card                   CardDetails
	Raw                    json.RawMessage
}

var (
	orderIDKeys        = []string{"externalOrderId", "orderId", "order_id", "merchantOrderId", "external_order_id"}
	statusKeys         = []string{"status", "orderStatus", "paymentStatus", "state"}
	subscriptionIDKeys = []string{"subscriptionId", "subscription_id", "recurringId"}
	tokenKeys          = []string{"cardToken", "card_token"}
	maskKeys           = []string{"cardMask", "maskedPan", "mask", "pan"}
	brandKeys          = []string{"cardBrand", "brand", "cardType", "scheme"}
	last4Keys          = []string{"last4", "lastFour", "cardLast4"}
	expiryKeys         = []string{"expiry", "expiryDate", "cardExpiry", "expDate"}
	expiryMonthKeys    = []string{"expiryMonth", "expMonth", "exp_month"}
	expiryYearKeys     = []string{"expiryYear", "expYear", "exp_year"}
)

// ParseCallback decodes a callback object. Values nested under "data" and
// "card" are merged into the top level without overriding it.
func ParseCallback(raw []byte) (*Callback, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("callback is not a JSON object: %w", err)
	}
	if body == nil {
		return nil, fmt.Errorf("callback is not a JSON object")
	}

	flat := flatten(body)
	cb := &Callback{
		OrderID:                firstString(flat, orderIDKeys),
		Status:                 firstString(flat, statusKeys),
		ProviderSubscriptionID: firstString(flat, subscriptionIDKeys),
		Raw:                    json.RawMessage(raw),
	}
	cb.Card = CardDetails{
		Token: cardToken(body, flat),
		Mask:  firstString(flat, maskKeys),
		Brand: firstString(flat, brandKeys),
		Last4: firstString(flat, last4Keys),
	}
	if cb.Card.Last4 == "" && len(cb.Card.Mask) >= 4 {
		tail := cb.Card.Mask[len(cb.Card.Mask)-4:]
		if isDigits(tail) {
			cb.Card.Last4 = tail
		}
	}
	cb.Card.ExpiryMonth, cb.Card.ExpiryYear = parseExpiry(flat)
	return cb, nil
}

// Success reports whether the status maps to an active subscription.
func (c *Callback) Success() bool {
	s, ok := MapProviderStatus(c.Status)
	return ok && s == StatusActive
}

// Failure reports whether the status maps to failed or cancelled.
func (c *Callback) Failure() bool {
	s, ok := MapProviderStatus(c.Status)
	return ok && (s == StatusFailed || s == StatusCancelled)
}

func flatten(body map[string]any) map[string]any {
	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}
	for _, nestedKey := range []string{"data", "card"} {
		nested, ok := body[nestedKey].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range flatten(nested) {
			if _, exists := out[k]; !exists || isEmpty(out[k]) {
				out[k] = v
			}
		}
	}
	return out
}

// cardToken reads the explicit card token keys anywhere, and a bare "token"
// only inside a card object, where it cannot be some other credential.
func cardToken(body, flat map[string]any) string {
	if t := firstString(flat, tokenKeys); t != "" {
		return t
	}
	for _, card := range []any{body["card"], nestedValue(body, "data", "card")} {
		if m, ok := card.(map[string]any); ok {
			if t := asString(m["token"]); t != "" {
				return t
			}
		}
	}
	return ""
}

func nestedValue(m map[string]any, outer, inner string) any {
	o, ok := m[outer].(map[string]any)
	if !ok {
		return nil
	}
	return o[inner]
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := asString(m[k]); s != "" {
			return s
		}
	}
	return ""
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// parseExpiry accepts separate month/year fields or "MM/YY", "MM/YYYY".
func parseExpiry(m map[string]any) (month, year int) {
	month, _ = strconv.Atoi(firstString(m, expiryMonthKeys))
	year, _ = strconv.Atoi(firstString(m, expiryYearKeys))
	if month == 0 || year == 0 {
		if exp := firstString(m, expiryKeys); exp != "" {
			parts := strings.SplitN(strings.ReplaceAll(exp, "-", "/"), "/", 2)
			if len(parts) == 2 {
				month, _ = strconv.Atoi(strings.TrimSpace(parts[0]))
				year, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
			}
		}
	}
	if year > 0 && year < 100 {
		year += 2000
	}
	if month < 1 || month > 12 {
		month = 0
	}
	return month, year
}

// AuditPayload returns Raw with card tokens replaced, for the audit log.
func (c *Callback) AuditPayload() json.RawMessage {
	dec := json.NewDecoder(bytes.NewReader(c.Raw))
	dec.UseNumber()
	var body any
	if err := dec.Decode(&body); err != nil {
		return c.Raw
	}
	redact(body)
	out, err := json.Marshal(body)
	if err != nil {
		return c.Raw
	}
	return out
}

func redact(v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if isTokenKey(k) {
				if _, ok := child.(string); ok {
					t[k] = "[redacted]"
				}
				continue
			}
			redact(child)
		}
	case []any:
		for _, child := range t {
			redact(child)
		}
	}
}

// isTokenKey also matches a bare "token" anywhere: audit rows keep no
// credentials of any kind.
func isTokenKey(k string) bool {
	if k == "token" {
		return true
	}
	for _, tk := range tokenKeys {
		if k == tk {
			return true
		}
	}
	return false
}
