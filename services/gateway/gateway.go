// Package gateway verifies payment-gateway transactions by reference.
//
// The reconciliation engine never trusts amounts sent by the browser: it asks a
// Verifier, and only a "success" transaction with a positive amount is accepted.
// Amounts are always returned in the gateway's minor currency unit.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"schoolreg/config"

	"github.com/sirupsen/logrus"
)

const StatusSuccess = "success"

// Transaction is the verified view of one gateway transaction.
type Transaction struct {
	Gateway     string
	Reference   string
	Status      string
	AmountMinor int64
	Currency    string
	PaidAt      *time.Time
	Metadata    map[string]interface{}
	Raw         []byte
}

// Successful reports whether the gateway settled the transaction.
func (t *Transaction) Successful() bool {
	return t != nil && strings.EqualFold(t.Status, StatusSuccess)
}

// Verifier looks up a transaction. It returns (nil, nil) when the gateway does not know the reference.
type Verifier interface {
	Verify(ctx context.Context, reference string) (*Transaction, error)
}

// NewFromConfig builds the verifier selected by PAYMENT_GATEWAY.
func NewFromConfig(cfg *config.Config) (Verifier, error) {
	switch cfg.PaymentGateway {
	case "paystack":
		return NewPaystackVerifier(cfg.PaystackBaseURL, cfg.PaystackSecretKey, cfg.GatewayTimeout), nil
	case "midtrans":
		return NewMidtransVerifier(cfg.MidtransServerKey, cfg.MidtransProduction), nil
	default:
		return nil, fmt.Errorf("unsupported payment gateway %q", cfg.PaymentGateway)
	}
}

func logVerification(gateway, reference string, tx *Transaction, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"gateway":   gateway,
		"reference": reference,
	})
	switch {
	case err != nil:
		entry.WithError(err).Warn("Gateway verification failed")
	case tx == nil:
		entry.Warn("Gateway does not know reference")
	default:
		entry.WithFields(logrus.Fields{
			"status":       tx.Status,
			"amount_minor": tx.AmountMinor,
			"currency":     tx.Currency,
		}).Info("Gateway verification completed")
	}
}
