package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	svcerrors "github.com/fotogem/studio-gateway/internal/errors"
	"github.com/fotogem/studio-gateway/internal/httputil"
	"github.com/fotogem/studio-gateway/internal/imaging"
	"github.com/fotogem/studio-gateway/internal/ledger"
	"github.com/fotogem/studio-gateway/internal/logging"
	"github.com/fotogem/studio-gateway/internal/prompt"
	"github.com/fotogem/studio-gateway/internal/provider"
)

const maxReferenceImages = 6

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// generateRequest is the client payload for POST /api/generate.
type generateRequest struct {
	Images  []provider.ImagePart `json:"images"`
	Options prompt.Options       `json:"options"`
}

// generateResponse carries the finished image back to the client.
type generateResponse struct {
	Image            string `json:"image"`
	MIMEType         string `json:"mimeType"`
	CreditsRemaining int64  `json:"creditsRemaining"`
}

// handleGenerate runs one metered generation attempt. The credit is debited
// before the request body is even decoded, so every failure from here on has
// a refund edge; only a provider success settles the attempt as spent.
func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := s.log.WithContext(ctx)

	accountID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	receipt, err := s.ledger.TryDebit(ctx, accountID)
	if err != nil {
		httputil.WriteServiceError(w, r, err)
		return
	}
	s.metrics.RecordDebit()

	var req generateRequest
	if !httputil.DecodeJSON(w, r, &req, s.settings.Limits.MaxBodyBytes) {
		s.refund(ctx, receipt, "invalid_request")
		return
	}
	if err := validateGenerateRequest(&req); err != nil {
		s.refund(ctx, receipt, "invalid_request")
		httputil.WriteServiceError(w, r, err)
		return
	}

	promptText, err := req.Options.Build()
	if err != nil {
		s.refund(ctx, receipt, "invalid_request")
		httputil.WriteServiceError(w, r, svcerrors.InvalidRequest(err.Error()))
		return
	}

	s.padReferenceImage(req.Images, req.Options.AspectRatio, log)

	providerCtx, cancel := context.WithTimeout(ctx, s.settings.Provider.Timeout)
	defer cancel()

	result, err := s.provider.Generate(providerCtx, promptText, req.Images)
	if err != nil {
		reason := refundReason(err)
		s.refund(ctx, receipt, reason)
		s.metrics.RecordGeneration(reason)
		log.WithError(err).WithField("reason", reason).Warn("generation failed")
		httputil.WriteServiceError(w, r, err)
		return
	}

	s.ledger.Complete(ctx, receipt)
	s.metrics.RecordGeneration("success")
	s.recordGeneration()

	httputil.WriteJSON(w, http.StatusOK, generateResponse{
		Image:            base64.StdEncoding.EncodeToString(result.Data),
		MIMEType:         result.MIMEType,
		CreditsRemaining: receipt.NewBalance,
	})
}

func (s *Service) refund(ctx context.Context, receipt *ledger.DebitReceipt, reason string) {
	if s.ledger.Refund(ctx, receipt, reason) {
		s.metrics.RecordRefund(reason)
		s.recordRefund()
	}
}

// padReferenceImage normalizes the first reference image onto the requested
// canvas before submission. Padding is best effort: a decode problem submits
// the image as the client sent it rather than failing the attempt.
func (s *Service) padReferenceImage(images []provider.ImagePart, aspectRatio string, log *logging.Logger) {
	if aspectRatio == "" || len(images) == 0 {
		return
	}
	ratio, err := imaging.ParseRatio(aspectRatio)
	if err != nil {
		return
	}
	data, err := base64.StdEncoding.DecodeString(images[0].Data)
	if err != nil {
		return
	}
	padded, mimeType, err := imaging.PadToAspect(data, images[0].MIMEType, ratio)
	if err != nil {
		log.WithError(err).Warn("reference image padding failed, submitting original")
		return
	}
	images[0].Data = base64.StdEncoding.EncodeToString(padded)
	images[0].MIMEType = mimeType
}

func validateGenerateRequest(req *generateRequest) error {
	if len(req.Images) == 0 {
		return svcerrors.InvalidRequest("at least one reference image is required")
	}
	if len(req.Images) > maxReferenceImages {
		return svcerrors.InvalidRequest("too many reference images")
	}
	for _, img := range req.Images {
		if !allowedImageTypes[strings.ToLower(img.MIMEType)] {
			return svcerrors.InvalidRequest("unsupported image type " + img.MIMEType)
		}
		if img.Data == "" {
			return svcerrors.InvalidRequest("reference image has no data")
		}
	}
	return nil
}

// refundReason maps a provider error to the refund ledger label.
func refundReason(err error) string {
	switch {
	case svcerrors.IsCode(err, svcerrors.CodeProviderRejected):
		return "provider_rejected"
	case svcerrors.IsCode(err, svcerrors.CodeProviderUnavailable):
		return "provider_unavailable"
	case svcerrors.IsCode(err, svcerrors.CodeMalformedResponse):
		return "malformed_response"
	default:
		return "internal_error"
	}
}
