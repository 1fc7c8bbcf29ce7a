package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// PaystackVerifier calls GET /transaction/verify/:reference.
type PaystackVerifier struct {
	baseURL   string
	secretKey string
	timeout   time.Duration
}

func NewPaystackVerifier(baseURL, secretKey string, timeout time.Duration) *PaystackVerifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaystackVerifier{
		baseURL:   strings.TrimRight(baseURL, "/"),
		secretKey: secretKey,
		timeout:   timeout,
	}
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string                 `json:"reference"`
		Status    string                 `json:"status"`
		Amount    int64                  `json:"amount"`
		Currency  string                 `json:"currency"`
		PaidAt    string                 `json:"paid_at"`
		Metadata  map[string]interface{} `json:"metadata"`
	} `json:"data"`
}

func (p *PaystackVerifier) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := p.verify(reference)
	logVerification("paystack", reference, tx, err)
	return tx, err
}

func (p *PaystackVerifier) verify(reference string) (*Transaction, error) {
	agent := fiber.Get(p.baseURL + "/transaction/verify/" + url.PathEscape(reference))
	agent.Set(fiber.HeaderAuthorization, "Bearer "+p.secretKey)
	agent.Set(fiber.HeaderAccept, fiber.MIMEApplicationJSON)
	agent.Timeout(p.timeout)

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return nil, fmt.Errorf("paystack request failed: %w", errors.Join(errs...))
	}
	if code == fiber.StatusNotFound {
		return nil, nil
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("paystack answered HTTP %d", code)
	}

	var resp paystackVerifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("paystack response is not valid JSON: %w", err)
	}
	if !resp.Status {
		return nil, nil
	}

	tx := &Transaction{
		Gateway:     "paystack",
		Reference:   resp.Data.Reference,
		Status:      strings.ToLower(resp.Data.Status),
		AmountMinor: resp.Data.Amount,
		Currency:    resp.Data.Currency,
		Metadata:    resp.Data.Metadata,
		Raw:         body,
	}
	if tx.Reference == "" {
		tx.Reference = reference
	}
	if resp.Data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, resp.Data.PaidAt); err == nil {
			tx.PaidAt = &t
		}
	}
	return tx, nil
}
