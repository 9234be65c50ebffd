package redeem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nganmiu/voucherbot/internal/config"
	"github.com/nganmiu/voucherbot/internal/models"
)

// Client talks to the external voucher-redemption service. The vendor API
// is not idempotent, so a failed or timed-out attempt is terminal and never
// retried here.
type Client struct {
	url        string
	origin     string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg config.Config, log *slog.Logger) *Client {
	timeout := cfg.RedeemTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    cfg.RedeemURL,
		origin: cfg.RedeemOrigin,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type voucherIdentifier struct {
	PromotionID     int64  `json:"promotion_id"`
	VoucherCode     string `json:"voucher_code"`
	Signature       string `json:"signature"`
	SignatureSource int    `json:"signature_source"`
}

type saveRequest struct {
	VoucherIdentifiers    []voucherIdentifier `json:"voucher_identifiers"`
	NeedUserVoucherStatus bool                `json:"need_user_voucher_status"`
}

type saveResponse struct {
	Responses []struct {
		Error int `json:"error"`
	} `json:"responses"`
}

// Redeem forwards the credential and the offer's redemption payload to the
// vendor. The bool reports success; the string is the vendor failure code,
// passed through verbatim for diagnostics.
func (c *Client) Redeem(ctx context.Context, credential string, offer models.VoucherOffer) (bool, string) {
	body, err := json.Marshal(saveRequest{
		VoucherIdentifiers: []voucherIdentifier{{
			PromotionID: offer.PromotionID,
			VoucherCode: offer.VoucherCode,
			Signature:   offer.Signature,
		}},
		NeedUserVoucherStatus: true,
	})
	if err != nil {
		return false, "ENCODE_ERROR"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, "REQUEST_ERROR"
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Origin", c.origin)
	req.Header.Set("Referer", c.origin+"/")
	req.Header.Set("Cookie", credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, "TIMEOUT"
		}
		c.log.Error("redemption transport error", "offer", offer.Code, "err", err)
		return false, "TRANSPORT_ERROR"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Sprintf("HTTP_%d", resp.StatusCode)
	}

	var parsed saveResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, "INVALID_RESPONSE"
	}
	if len(parsed.Responses) == 0 {
		return false, "INVALID_RESPONSE"
	}
	if code := parsed.Responses[0].Error; code != 0 {
		return false, fmt.Sprintf("VENDOR_%d", code)
	}
	return true, "OK"
}
