package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"vestpay/crypto"
	"vestpay/native/vesting"
)

const nanosPerSecond = 1_000_000_000

// AgreementPoint is one control point of a piecewise schedule as written in
// the agreement file: seconds past the vest start and the cumulative amount
// released by then.
type AgreementPoint struct {
	Offset uint64 `toml:"Offset"`
	Amount string `toml:"Amount"`
}

// Agreement is the instantiation record of the vesting arrangement: who is
// paid, by whose authority, how much, and on what release curve. It maps
// one-to-one onto the engine's VestInit after address, amount and time-unit
// checks.
type Agreement struct {
	ID          string `toml:"ID"`
	Owner       string `toml:"Owner"`
	Recipient   string `toml:"Recipient"`
	Title       string `toml:"Title"`
	Description string `toml:"Description"`
	Total       string `toml:"Total"`
	Denom       string `toml:"Denom"`
	// Schedule is "saturating_linear" or "piecewise_linear".
	Schedule string           `toml:"Schedule"`
	Points   []AgreementPoint `toml:"Points"`
	// StartTimeUnixNanos is the absolute schedule origin. Zero starts the
	// vest at instantiation time. The nanosecond value is reduced to seconds
	// exactly once, rounding down; curve evaluation only ever sees seconds.
	StartTimeUnixNanos     int64  `toml:"StartTimeUnixNanos"`
	VestingDurationSeconds uint64 `toml:"VestingDurationSeconds"`
}

// LoadAgreement reads and parses the agreement file.
func LoadAgreement(path string) (*Agreement, error) {
	agreement := &Agreement{}
	if _, err := toml.DecodeFile(path, agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

// VestInit validates the record and converts it into the engine's
// instantiation input.
func (a *Agreement) VestInit() (vesting.VestInit, error) {
	var init vesting.VestInit

	id := uuid.New()
	if trimmed := strings.TrimSpace(a.ID); trimmed != "" {
		parsed, err := uuid.Parse(trimmed)
		if err != nil {
			return init, fmt.Errorf("agreement: invalid ID: %w", err)
		}
		id = parsed
	}

	owner, err := crypto.DecodeAddress(strings.TrimSpace(a.Owner))
	if err != nil {
		return init, fmt.Errorf("agreement: invalid owner: %w", err)
	}
	recipient, err := crypto.DecodeAddress(strings.TrimSpace(a.Recipient))
	if err != nil {
		return init, fmt.Errorf("agreement: invalid recipient: %w", err)
	}

	total, err := parseAmount(a.Total)
	if err != nil {
		return init, fmt.Errorf("agreement: invalid total: %w", err)
	}

	schedule, err := a.schedule()
	if err != nil {
		return init, err
	}

	startTime := int64(0)
	if a.StartTimeUnixNanos != 0 {
		if a.StartTimeUnixNanos < 0 {
			return init, fmt.Errorf("agreement: negative start time")
		}
		startTime = a.StartTimeUnixNanos / nanosPerSecond
	}

	return vesting.VestInit{
		ID:              id,
		Total:           total,
		Denom:           strings.TrimSpace(a.Denom),
		Recipient:       recipient.Array(),
		Owner:           owner.Array(),
		StartTime:       startTime,
		DurationSeconds: a.VestingDurationSeconds,
		Schedule:        schedule,
		Title:           strings.TrimSpace(a.Title),
		Description:     strings.TrimSpace(a.Description),
	}, nil
}

func (a *Agreement) schedule() (vesting.Schedule, error) {
	switch strings.ToLower(strings.TrimSpace(a.Schedule)) {
	case "", "saturating_linear":
		return vesting.Schedule{Kind: vesting.ScheduleSaturatingLinear}, nil
	case "piecewise_linear":
		points := make([]vesting.Point, 0, len(a.Points))
		for i, p := range a.Points {
			amount, err := parseAmount(p.Amount)
			if err != nil {
				return vesting.Schedule{}, fmt.Errorf("agreement: point %d: %w", i, err)
			}
			points = append(points, vesting.Point{Offset: p.Offset, Amount: amount})
		}
		return vesting.Schedule{Kind: vesting.SchedulePiecewiseLinear, Points: points}, nil
	default:
		return vesting.Schedule{}, fmt.Errorf("agreement: unsupported schedule %q", a.Schedule)
	}
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return amount, nil
}
