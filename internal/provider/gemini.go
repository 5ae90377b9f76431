// Package provider talks to the upstream image-generation API and classifies
// its answers into the gateway's error taxonomy.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	svcerrors "github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/httputil"
)

const (
	// DefaultBaseURL is the public Generative Language endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultModel is the image-capable model the gateway fronts.
	DefaultModel = "gemini-2.5-flash-image-preview"

	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 32 << 20
)

// ImagePart is one client-supplied reference image, base64-encoded the way
// the upstream API expects.
type ImagePart struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Result is a successfully generated image, decoded to raw bytes.
type Result struct {
	Data     []byte
	MIMEType string
}

// Client is a thin HTTP client for the generateContent API. All failure
// modes surface as ServiceErrors so callers can decide refund behavior from
// the error code alone.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the API host, primarily for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a provider client with the given API key.
func NewClient(apiKey string, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	c := &Client{
		apiKey:  apiKey,
		model:   DefaultModel,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate sends the prompt plus reference images upstream and returns the
// generated image. Error codes distinguish the caller's refund paths:
// CodeProviderRejected for inputs the upstream refused, CodeProviderUnavailable
// for transport trouble and server errors, CodeMalformedResponse for answers
// missing image data.
func (c *Client) Generate(ctx context.Context, promptText string, images []ImagePart) (*Result, error) {
	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: promptText})
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{MIMEType: img.MIMEType, Data: img.Data}})
	}
	reqBody := generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: generationConfig{ResponseModalities: []string{"IMAGE"}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, svcerrors.Internal("marshal provider request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, svcerrors.Internal("build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.ProviderUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, maxResponseBytes)
	if err != nil {
		return nil, svcerrors.ProviderUnavailable(fmt.Errorf("read provider response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyHTTPError(resp.StatusCode, body)
	}
	return c.extractImage(body)
}

// classifyHTTPError maps non-200 answers. Server errors and throttling are
// transient upstream trouble; other client errors mean the upstream refused
// this particular request.
func (c *Client) classifyHTTPError(status int, body []byte) error {
	var parsed generateResponse
	message := ""
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		message = parsed.Error.Message
	}

	if status >= 500 || status == http.StatusTooManyRequests {
		return svcerrors.ProviderUnavailable(fmt.Errorf("provider returned status %d: %s", status, message))
	}
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", status)
	}
	return svcerrors.ProviderRejected(message)
}

func (c *Client) extractImage(body []byte) (*Result, error) {
	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, svcerrors.MalformedResponse("provider response was not valid JSON")
	}

	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return nil, svcerrors.ProviderRejected("request blocked: " + parsed.PromptFeedback.BlockReason)
	}
	for _, cand := range parsed.Candidates {
		if cand.FinishReason == "SAFETY" {
			return nil, svcerrors.ProviderRejected("generation stopped for safety reasons")
		}
	}

	for _, cand := range parsed.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, svcerrors.MalformedResponse("provider image payload was not valid base64")
			}
			mimeType := p.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return &Result{Data: raw, MIMEType: mimeType}, nil
		}
	}
	return nil, svcerrors.MalformedResponse("provider response contained no image data")
}
