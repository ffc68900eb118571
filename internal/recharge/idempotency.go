package recharge

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"frameworks/purser-recharge/internal/gateway"
	"frameworks/purser-recharge/internal/settings"
	"frameworks/purser-recharge/pkg/billing"
)

// IdempotencyKey derives the gateway idempotency key for a recharge. Two
// passes that see the same config inside the same window produce the same key,
// so the processor collapses them into one transaction. The counter and month
// boundary make every consumed recharge yield a fresh key.
func IdempotencyKey(cfg settings.Config, customerRef, currency string, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Hour
	}
	name := fmt.Sprintf("auto_recharge:%s:%s:%s:%s:%d:%d:%d:%d:%d",
		cfg.OrganizationID,
		customerRef,
		cfg.PaymentMethodRef,
		currency,
		cfg.RechargeAmountCents,
		cfg.ThresholdCents,
		cfg.MonthResetAt.UTC().Unix(),
		cfg.RechargesThisMonth,
		now.UTC().Truncate(window).Unix(),
	)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// chargeRequest builds the gateway request for a recharge from the key's own
// inputs only. The processor rejects a reused key whose parameters differ.
func chargeRequest(cfg settings.Config, customerRef, currency string, now time.Time, window time.Duration) gateway.ChargeRequest {
	return gateway.ChargeRequest{
		AmountCents:      cfg.RechargeAmountCents,
		Currency:         currency,
		CustomerRef:      customerRef,
		PaymentMethodRef: cfg.PaymentMethodRef,
		IdempotencyKey:   IdempotencyKey(cfg, customerRef, currency, now, window),
		Description:      fmt.Sprintf("Auto-recharge of %s", billing.FormatCents(cfg.RechargeAmountCents, currency)),
		Metadata: map[string]string{
			"organization_id": cfg.OrganizationID,
			"trigger":         "auto_recharge",
			"reason":          "balance_below_threshold",
			"threshold_cents": strconv.FormatInt(cfg.ThresholdCents, 10),
		},
	}
}
