package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/fotogem/studio-gateway/internal/config"
	svcerrors "github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/idempotency"
	"github.com/fotogem/studio-gateway/internal/ledger"
	"github.com/fotogem/studio-gateway/internal/ledger/supabase"
	"github.com/fotogem/studio-gateway/internal/logging"
	"github.com/fotogem/studio-gateway/internal/metrics"
	"github.com/fotogem/studio-gateway/internal/provider"
)

type fakeProvider struct {
	calls      int
	lastImages []provider.ImagePart
	result     *provider.Result
	err        error
}

func (f *fakeProvider) Generate(_ context.Context, _ string, images []provider.ImagePart) (*provider.Result, error) {
	f.calls++
	f.lastImages = images
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	service  *Service
	router   *mux.Router
	repo     *supabase.MockRepository
	provider *fakeProvider
}

func newTestEnv(t *testing.T, credits int64) *testEnv {
	t.Helper()

	repo := supabase.NewMockRepository()
	repo.SetAccount("acct-1", "user@example.com", credits)

	fake := &fakeProvider{
		result: &provider.Result{Data: []byte("fake-image-bytes"), MIMEType: "image/png"},
	}

	log := logging.NewDefault("gateway-test")
	svc := New(Config{
		Settings:      config.DefaultSettings(),
		Logger:        log,
		Metrics:       metrics.New("gateway_test"),
		Ledger:        ledger.NewManager(repo, log),
		Repository:    repo,
		Provider:      fake,
		Orders:        idempotency.NewMemoryStore(),
		WebhookSecret: []byte("webhook-secret"),
		ClientKeys:    map[string]string{"apiKey": "public-key", "projectId": "proj"},
	})

	router := mux.NewRouter()
	svc.RegisterRoutes(router)

	return &testEnv{service: svc, router: router, repo: repo, provider: fake}
}

func (e *testEnv) do(method, path, body string, asUser string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if asUser != "" {
		req = req.WithContext(logging.WithUserID(req.Context(), asUser))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func generateBody(style string) string {
	body, _ := json.Marshal(map[string]any{
		"images": []map[string]string{
			{"mimeType": "image/png", "data": base64.StdEncoding.EncodeToString([]byte("ref"))},
		},
		"options": map[string]any{"style": style},
	})
	return string(body)
}

func pngImage(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func balanceOf(t *testing.T, repo *supabase.MockRepository) int64 {
	t.Helper()
	acct, err := repo.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct.Credits
}

func TestGenerate_SuccessConsumesCredit(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Classic Studio"), "acct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp generateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		t.Fatalf("image not base64: %v", err)
	}
	if !bytes.Equal(decoded, []byte("fake-image-bytes")) {
		t.Error("image bytes do not round trip")
	}
	if resp.CreditsRemaining != 4 {
		t.Errorf("expected 4 credits remaining, got %d", resp.CreditsRemaining)
	}
	if got := balanceOf(t, env.repo); got != 4 {
		t.Errorf("expected balance 4, got %d", got)
	}
	if env.provider.calls != 1 {
		t.Errorf("provider called %d times", env.provider.calls)
	}
}

func TestGenerate_PadsReferenceBeforeSubmission(t *testing.T) {
	env := newTestEnv(t, 5)

	body, _ := json.Marshal(map[string]any{
		"images": []map[string]string{
			{"mimeType": "image/png", "data": pngImage(t, 90, 90)},
		},
		"options": map[string]any{"style": "Classic Studio", "aspectRatio": "16:9"},
	})

	rec := env.do(http.MethodPost, "/api/generate", string(body), "acct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(env.provider.lastImages) != 1 {
		t.Fatalf("provider received %d images", len(env.provider.lastImages))
	}

	sent, err := base64.StdEncoding.DecodeString(env.provider.lastImages[0].Data)
	if err != nil {
		t.Fatalf("submitted image not base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(sent))
	if err != nil {
		t.Fatalf("submitted image not png: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 160 || bounds.Dy() != 90 {
		t.Errorf("expected 160x90 canvas, got %dx%d", bounds.Dx(), bounds.Dy())
	}
}

func TestGenerate_UndecodableReferenceSubmittedUnmodified(t *testing.T) {
	env := newTestEnv(t, 5)

	raw := base64.StdEncoding.EncodeToString([]byte("not an image"))
	body, _ := json.Marshal(map[string]any{
		"images": []map[string]string{
			{"mimeType": "image/png", "data": raw},
		},
		"options": map[string]any{"style": "Classic Studio", "aspectRatio": "4:5"},
	})

	rec := env.do(http.MethodPost, "/api/generate", string(body), "acct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.provider.lastImages[0].Data; got != raw {
		t.Error("undecodable reference must be submitted as sent")
	}
}

func TestGenerate_InsufficientCreditSkipsProvider(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Classic Studio"), "acct-1")
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rec.Code)
	}
	if env.provider.calls != 0 {
		t.Error("provider must not be invoked without a debit")
	}
	if got := balanceOf(t, env.repo); got != 0 {
		t.Errorf("balance must stay 0, got %d", got)
	}
}

func TestGenerate_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, 5)

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Classic Studio"), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 5 {
		t.Errorf("no debit without identity, balance %d", got)
	}
}

func TestGenerate_MalformedBodyRefunds(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(http.MethodPost, "/api/generate", "{not json", "acct-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	// Debit happens before decode; the failure path must give it back.
	if got := balanceOf(t, env.repo); got != 3 {
		t.Errorf("expected refunded balance 3, got %d", got)
	}
	if env.provider.calls != 0 {
		t.Error("provider must not be invoked for malformed input")
	}
}

func TestGenerate_UnknownStyleRefunds(t *testing.T) {
	env := newTestEnv(t, 3)

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Vaporwave"), "acct-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 3 {
		t.Errorf("expected refunded balance 3, got %d", got)
	}
}

func TestGenerate_MissingImagesRefunds(t *testing.T) {
	env := newTestEnv(t, 3)

	body, _ := json.Marshal(map[string]any{
		"images":  []map[string]string{},
		"options": map[string]any{"style": "Classic Studio"},
	})
	rec := env.do(http.MethodPost, "/api/generate", string(body), "acct-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 3 {
		t.Errorf("expected refunded balance 3, got %d", got)
	}
}

func TestGenerate_ProviderUnavailableRefunds(t *testing.T) {
	env := newTestEnv(t, 2)
	env.provider.err = svcerrors.ProviderUnavailable(context.DeadlineExceeded)

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Classic Studio"), "acct-1")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if got := balanceOf(t, env.repo); got != 2 {
		t.Errorf("expected refunded balance 2, got %d", got)
	}
}

func TestGenerate_SafetyRejectionSurfacesReason(t *testing.T) {
	env := newTestEnv(t, 2)
	env.provider.err = svcerrors.ProviderRejected("request blocked: SAFETY")

	rec := env.do(http.MethodPost, "/api/generate", generateBody("Classic Studio"), "acct-1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "SAFETY") {
		t.Error("rejection reason must reach the client")
	}
	if got := balanceOf(t, env.repo); got != 2 {
		t.Errorf("expected refunded balance 2, got %d", got)
	}
}

func TestCredits(t *testing.T) {
	env := newTestEnv(t, 7)

	rec := env.do(http.MethodGet, "/api/me/credits", "", "acct-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Credits int64 `json:"credits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Credits != 7 {
		t.Errorf("expected 7 credits, got %d", resp.Credits)
	}
}

func TestKeys_PublicConfigOnly(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(http.MethodGet, "/api/keys", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var keys map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &keys); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if keys["apiKey"] != "public-key" {
		t.Errorf("unexpected keys %v", keys)
	}
	if _, ok := keys["geminiApiKey"]; ok {
		t.Error("provider credential must never be exposed")
	}
}

func TestKeys_MissingConfig(t *testing.T) {
	env := newTestEnv(t, 0)
	env.service.clientKeys = nil

	rec := env.do(http.MethodGet, "/api/keys", "", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)

	rec := env.do(http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("unexpected health body %s", rec.Body.String())
	}
}
