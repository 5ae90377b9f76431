package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func (e *testEnv) postWebhook(body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func paymentBody(orderID, email, product string) string {
	body, _ := json.Marshal(map[string]string{
		"event_type":     "order.completed",
		"order_id":       orderID,
		"customer_email": email,
		"product_id":     product,
	})
	return string(body)
}

func TestWebhook_GrantsCredits(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-1", "user@example.com", "fotogem-access")
	rec := env.postWebhook(body, signBody("webhook-secret", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := balanceOf(t, env.repo); got != 100 {
		t.Errorf("expected 100 credits granted, got %d", got)
	}
}

func TestWebhook_ReplayDoesNotDoubleGrant(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-1", "user@example.com", "fotogem-access")
	sig := signBody("webhook-secret", body)

	if rec := env.postWebhook(body, sig); rec.Code != http.StatusOK {
		t.Fatalf("first delivery failed: %d", rec.Code)
	}
	if rec := env.postWebhook(body, sig); rec.Code != http.StatusOK {
		t.Fatalf("replay must be acknowledged, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 100 {
		t.Errorf("replay must not double grant, balance %d", got)
	}
}

func TestWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-1", "user@example.com", "fotogem-access")
	rec := env.postWebhook(body, signBody("wrong-secret", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 0 {
		t.Errorf("no grant on bad signature, balance %d", got)
	}
}

func TestWebhook_MissingSignature(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-1", "user@example.com", "fotogem-access")
	if rec := env.postWebhook(body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestWebhook_TamperedBody(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-1", "user@example.com", "fotogem-access")
	sig := signBody("webhook-secret", body)
	tampered := strings.Replace(body, "user@example.com", "evil@example.com", 1)

	if rec := env.postWebhook(tampered, sig); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", rec.Code)
	}
}

func TestWebhook_NonCompletionEventAcknowledged(t *testing.T) {
	env := newTestEnv(t, 0)

	for _, eventType := range []string{"order.refunded", "order.cancelled", "order.pending"} {
		payload, _ := json.Marshal(map[string]string{
			"event_type":     eventType,
			"order_id":       "order-" + eventType,
			"customer_email": "user@example.com",
			"product_id":     "fotogem-access",
		})
		body := string(payload)

		rec := env.postWebhook(body, signBody("webhook-secret", body))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 ack, got %d", eventType, rec.Code)
		}
	}
	if got := balanceOf(t, env.repo); got != 0 {
		t.Errorf("non-completion events must not grant, balance %d", got)
	}
}

func TestWebhook_IrrelevantProductAcknowledged(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-2", "user@example.com", "some-other-product")
	rec := env.postWebhook(body, signBody("webhook-secret", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 0 {
		t.Errorf("no grant for unrelated product, balance %d", got)
	}
}

func TestWebhook_UnknownCustomerAcknowledged(t *testing.T) {
	env := newTestEnv(t, 0)

	body := paymentBody("order-3", "stranger@example.com", "fotogem-access")
	rec := env.postWebhook(body, signBody("webhook-secret", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 ack, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 0 {
		t.Errorf("no grant for unknown customer, balance %d", got)
	}
}

func TestWebhook_MissingFields(t *testing.T) {
	env := newTestEnv(t, 0)

	body := `{"event_type":"order.completed"}`
	rec := env.postWebhook(body, signBody("webhook-secret", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
