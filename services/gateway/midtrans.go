package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// MidtransVerifier checks transaction status through the Midtrans Core API.
type MidtransVerifier struct {
	client coreapi.Client
}

func NewMidtransVerifier(serverKey string, useProduction bool) *MidtransVerifier {
	v := &MidtransVerifier{}
	if useProduction {
		v.client.New(serverKey, midtrans.Production)
	} else {
		v.client.New(serverKey, midtrans.Sandbox)
	}
	return v
}

func (m *MidtransVerifier) Verify(ctx context.Context, reference string) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, mErr := m.client.CheckTransaction(reference)
	if mErr != nil {
		if mErr.StatusCode == 404 {
			logVerification("midtrans", reference, nil, nil)
			return nil, nil
		}
		err := fmt.Errorf("midtrans status check failed: %s", mErr.Message)
		logVerification("midtrans", reference, nil, err)
		return nil, err
	}
	tx, err := midtransTransaction(reference, resp)
	logVerification("midtrans", reference, tx, err)
	return tx, err
}

// midtransTransaction maps a Core API status response onto Transaction.
// Settlement, and capture with an accepted fraud status, count as success.
func midtransTransaction(reference string, resp *coreapi.TransactionStatusResponse) (*Transaction, error) {
	if resp == nil || resp.StatusCode == "404" {
		return nil, nil
	}

	status := strings.ToLower(resp.TransactionStatus)
	switch status {
	case "settlement":
		status = StatusSuccess
	case "capture":
		if resp.FraudStatus == "" || strings.EqualFold(resp.FraudStatus, "accept") {
			status = StatusSuccess
		}
	}

	amountMinor, err := decimalToMinor(resp.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("midtrans gross_amount %q: %w", resp.GrossAmount, err)
	}

	raw, _ := json.Marshal(resp)
	tx := &Transaction{
		Gateway:     "midtrans",
		Reference:   resp.OrderID,
		Status:      status,
		AmountMinor: amountMinor,
		Currency:    resp.Currency,
		Raw:         raw,
	}
	if tx.Reference == "" {
		tx.Reference = reference
	}
	if resp.SettlementTime != "" {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05", resp.SettlementTime, time.Local); err == nil {
			tx.PaidAt = &t
		}
	}
	return tx, nil
}

// decimalToMinor turns "137500.00" into 13750000.
func decimalToMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 100)), nil
}
