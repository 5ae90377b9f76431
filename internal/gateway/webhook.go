package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fotogem/studio-gateway/internal/httputil"
	"github.com/fotogem/studio-gateway/internal/ledger/supabase"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

const maxWebhookBodyBytes = 64 << 10

// paymentEvent is the payment processor's webhook payload.
type paymentEvent struct {
	EventType     string `json:"event_type"`
	OrderID       string `json:"order_id"`
	CustomerEmail string `json:"customer_email"`
	ProductID     string `json:"product_id"`
}

// handleWebhook processes a payment notification. Unknown products, unmatched
// emails, and replayed orders are all acknowledged with 200 so the processor
// stops retrying; only transient trouble on our side returns 5xx.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.log.WithContext(ctx)

	body, err := httputil.ReadAllStrict(r.Body, maxWebhookBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "could not read webhook body")
		return
	}

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.log.LogSecurityEvent(ctx, "webhook_signature_rejected", map[string]interface{}{
			"remote_addr": r.RemoteAddr,
		})
		httputil.Unauthorized(w, "invalid webhook signature")
		return
	}

	var event paymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		httputil.BadRequest(w, "invalid webhook payload")
		return
	}
	if event.OrderID == "" || event.CustomerEmail == "" {
		httputil.BadRequest(w, "missing order_id or customer_email")
		return
	}

	if event.EventType != s.settings.Credits.GrantEvent {
		log.WithField("event_type", event.EventType).Info("webhook event does not complete a payment")
		s.ack(w, "event not relevant")
		return
	}

	if event.ProductID != s.settings.Credits.GrantProduct {
		log.WithField("product_id", event.ProductID).Info("webhook product not relevant for credits")
		s.ack(w, "product not relevant")
		return
	}

	claimed, err := s.orders.MarkProcessed(ctx, event.OrderID)
	if err != nil {
		log.WithError(err).Error("order claim failed")
		httputil.InternalError(w, "could not record order")
		return
	}
	if !claimed {
		log.WithField("order_id", event.OrderID).Info("webhook order already processed")
		s.ack(w, "order already processed")
		return
	}

	account, err := s.repo.GetAccountByEmail(ctx, event.CustomerEmail)
	if err != nil {
		if errors.Is(err, supabase.ErrAccountNotFound) {
			// Terminal on our side: the claim stays so retries stay no-ops.
			log.WithField("order_id", event.OrderID).Warn("webhook customer has no account")
			s.ack(w, "account not found")
			return
		}
		s.releaseOrder(ctx, event.OrderID)
		log.WithError(err).Error("account lookup failed")
		httputil.InternalError(w, "could not look up account")
		return
	}

	amount := s.settings.Credits.GrantAmount
	balance, err := s.ledger.Grant(ctx, account.ID, amount, event.OrderID)
	if err != nil {
		s.releaseOrder(ctx, event.OrderID)
		log.WithError(err).Error("credit grant failed")
		httputil.InternalError(w, "could not grant credits")
		return
	}

	s.metrics.RecordGrant(amount)
	s.recordGrant()
	log.WithFields(map[string]interface{}{
		"order_id": event.OrderID,
		"amount":   amount,
	}).Info("credits granted")

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"credits": balance,
	})
}

func (s *Service) verifySignature(body []byte, header string) bool {
	if len(s.webhookSecret) == 0 || header == "" {
		return false
	}
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// releaseOrder undoes a claim after a failed grant so the processor's retry
// can succeed.
func (s *Service) releaseOrder(ctx context.Context, orderID string) {
	if err := s.orders.Release(ctx, orderID); err != nil {
		s.log.WithError(err).WithField("order_id", orderID).Error("order claim release failed")
	}
}

func (s *Service) ack(w http.ResponseWriter, note string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"note":   note,
	})
}
