package vesting

import (
	"math/big"
	"strconv"

	"vestpay/core/types"
	"vestpay/crypto"
)

const (
	EventTypeVestingCreated   = "vesting.created"
	EventTypeVestingFunded    = "vesting.funded"
	EventTypeVestingClaimed   = "vesting.claimed"
	EventTypeVestingCancelled = "vesting.cancelled"
)

type vestingEvent struct {
	evt *types.Event
}

func (e vestingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e vestingEvent) Event() *types.Event { return e.evt }

// NewCreatedEvent returns the canonical event payload for a newly
// instantiated agreement.
func NewCreatedEvent(v *Vest) *types.Event {
	attrs := baseAttributes(v)
	if v != nil {
		attrs["startTime"] = strconv.FormatInt(v.StartTime, 10)
		attrs["durationSeconds"] = strconv.FormatUint(v.DurationSeconds, 10)
		attrs["schedule"] = v.Curve.Kind.String()
	}
	return &types.Event{Type: EventTypeVestingCreated, Attributes: attrs}
}

// NewFundedEvent returns the canonical event payload emitted when the funding
// gate flips the agreement to Funded.
func NewFundedEvent(v *Vest, now int64) *types.Event {
	attrs := baseAttributes(v)
	attrs["fundedAt"] = strconv.FormatInt(now, 10)
	if v != nil {
		attrs["overpayment"] = formatAmount(v.Overpayment)
	}
	return &types.Event{Type: EventTypeVestingFunded, Attributes: attrs}
}

// NewClaimedEvent returns the canonical event payload for a payout to the
// recipient.
func NewClaimedEvent(v *Vest, paid *big.Int, now int64) *types.Event {
	attrs := baseAttributes(v)
	attrs["paid"] = formatAmount(paid)
	attrs["claimedAt"] = strconv.FormatInt(now, 10)
	if v != nil {
		attrs["claimed"] = formatAmount(v.Claimed)
	}
	return &types.Event{Type: EventTypeVestingClaimed, Attributes: attrs}
}

// NewCancelledEvent returns the canonical event payload for the terminal
// cancellation settlement.
func NewCancelledEvent(v *Vest, toRecipient, toOwner *big.Int, now int64) *types.Event {
	attrs := baseAttributes(v)
	attrs["toRecipient"] = formatAmount(toRecipient)
	attrs["toOwner"] = formatAmount(toOwner)
	attrs["cancelledAt"] = strconv.FormatInt(now, 10)
	return &types.Event{Type: EventTypeVestingCancelled, Attributes: attrs}
}

func baseAttributes(v *Vest) map[string]string {
	attrs := make(map[string]string)
	if v == nil {
		return attrs
	}
	attrs["id"] = v.ID.String()
	attrs["recipient"] = crypto.MustNewAddress(crypto.VestPrefix, v.Recipient[:]).String()
	attrs["owner"] = crypto.MustNewAddress(crypto.VestPrefix, v.Owner[:]).String()
	attrs["denom"] = v.Denom
	attrs["total"] = formatAmount(v.Total)
	attrs["status"] = statusAttribute(v)
	return attrs
}

func statusAttribute(v *Vest) string {
	if v.Cancellation == CancelCancelled {
		return v.Cancellation.String()
	}
	return v.Funding.String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
