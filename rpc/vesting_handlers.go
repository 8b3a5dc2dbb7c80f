package rpc

import (
	"errors"
	"math/big"
	"strings"

	"vestpay/crypto"
	"vestpay/native/vesting"
	"vestpay/storage"
)

type fundParams struct {
	From string `json:"from,omitempty"`
}

type claimParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount,omitempty"`
}

type cancelParams struct {
	Caller string `json:"caller"`
}

type timeParams struct {
	T int64 `json:"t,omitempty"`
}

type transferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type balanceParams struct {
	Address string `json:"address"`
	Denom   string `json:"denom"`
}

type transferJSON struct {
	To     string `json:"to"`
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

type fundResult struct {
	Outcome     string `json:"outcome"`
	Observed    string `json:"observed"`
	Required    string `json:"required"`
	Overpayment string `json:"overpayment,omitempty"`
}

type claimResult struct {
	Paid      string         `json:"paid"`
	Claimed   string         `json:"claimed"`
	Transfers []transferJSON `json:"transfers"`
}

type cancelResult struct {
	ToRecipient string         `json:"toRecipient"`
	ToOwner     string         `json:"toOwner"`
	Transfers   []transferJSON `json:"transfers"`
}

type vestJSON struct {
	ID              string `json:"id"`
	Recipient       string `json:"recipient"`
	Owner           string `json:"owner"`
	Denom           string `json:"denom"`
	Total           string `json:"total"`
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	StartTime       int64  `json:"startTime"`
	DurationSeconds uint64 `json:"durationSeconds"`
	Schedule        string `json:"schedule"`
	FundingStatus   string `json:"fundingStatus"`
	CancelStatus    string `json:"cancelStatus"`
	Claimed         string `json:"claimed"`
	Overpayment     string `json:"overpayment"`
	CreatedAt       int64  `json:"createdAt"`
	CancelledAt     int64  `json:"cancelledAt,omitempty"`
}

type statusResult struct {
	FundingStatus string `json:"fundingStatus"`
	CancelStatus  string `json:"cancelStatus"`
	Claimed       string `json:"claimed"`
	Vested        string `json:"vested"`
	AsOf          int64  `json:"asOf"`
}

type durationResult struct {
	DurationSeconds *uint64 `json:"durationSeconds"`
}

func (s *Server) handleFund(req *RPCRequest) (interface{}, *RPCError) {
	var params fundParams
	if len(req.Params) > 0 {
		if err := unmarshalParams(req.Params[0], &params); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vest, rpcErr := s.loadVest()
	if rpcErr != nil {
		return nil, rpcErr
	}
	observed, err := s.ledger.Balance(s.escrow, vest.Denom)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	outcome, err := s.engine.Fund(observed, s.nowFn())
	if err != nil {
		return nil, s.engineError("fund", err)
	}
	s.metrics.RecordOperation("fund", outcome.String())
	s.logger.Info("funding gate evaluated",
		"outcome", outcome.String(),
		"observed", observed.String(),
		"required", vest.Total.String(),
		"from", strings.TrimSpace(params.From))

	result := fundResult{
		Outcome:  outcome.String(),
		Observed: observed.String(),
		Required: vest.Total.String(),
	}
	if outcome == vesting.FundingOutcomeFunded {
		funded, rpcErr := s.loadVest()
		if rpcErr == nil {
			result.Overpayment = funded.Overpayment.String()
		}
	}
	return result, nil
}

func (s *Server) handleClaim(req *RPCRequest) (interface{}, *RPCError) {
	var params claimParams
	if len(req.Params) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "claim params required"}
	}
	if err := unmarshalParams(req.Params[0], &params); err != nil {
		return nil, err
	}
	caller, rpcErr := decodeCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var request *big.Int
	if strings.TrimSpace(params.Amount) != "" {
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
		if !ok {
			return nil, &RPCError{Code: codeInvalidParams, Message: "malformed amount"}
		}
		request = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vest, rpcErr := s.loadVest()
	if rpcErr != nil {
		return nil, rpcErr
	}
	if caller != vest.Recipient {
		return nil, &RPCError{Code: codeVestingForbidden, Message: "caller is not the vest recipient"}
	}

	res, err := s.engine.Claim(s.nowFn(), request)
	if err != nil {
		return nil, s.engineError("claim", err)
	}
	if err := s.ledger.Apply(s.escrow, res.Transfers); err != nil {
		// State and transfers form one settlement unit; a failure here means
		// the escrow account does not hold what the engine accounted for.
		s.logger.Error("claim settlement failed", "err", err)
		return nil, &RPCError{Code: codeServerError, Message: "settlement failed: " + err.Error()}
	}
	s.metrics.RecordOperation("claim", "ok")
	s.metrics.RecordPayouts(len(res.Transfers))
	s.logger.Info("claim settled", "paid", res.Paid.String(), "claimed", res.Claimed.String())

	return claimResult{
		Paid:      res.Paid.String(),
		Claimed:   res.Claimed.String(),
		Transfers: transfersJSON(res.Transfers),
	}, nil
}

func (s *Server) handleCancel(req *RPCRequest) (interface{}, *RPCError) {
	var params cancelParams
	if len(req.Params) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "cancel params required"}
	}
	if err := unmarshalParams(req.Params[0], &params); err != nil {
		return nil, err
	}
	caller, rpcErr := decodeCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	vest, rpcErr := s.loadVest()
	if rpcErr != nil {
		return nil, rpcErr
	}
	observed, err := s.ledger.Balance(s.escrow, vest.Denom)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	res, err := s.engine.Cancel(caller, observed, s.nowFn())
	if err != nil {
		return nil, s.engineError("cancel", err)
	}
	if err := s.ledger.Apply(s.escrow, res.Transfers); err != nil {
		s.logger.Error("cancellation settlement failed", "err", err)
		return nil, &RPCError{Code: codeServerError, Message: "settlement failed: " + err.Error()}
	}
	s.metrics.RecordOperation("cancel", "ok")
	s.metrics.RecordPayouts(len(res.Transfers))
	s.logger.Info("agreement cancelled",
		"toRecipient", res.ToRecipient.String(),
		"toOwner", res.ToOwner.String())

	return cancelResult{
		ToRecipient: res.ToRecipient.String(),
		ToOwner:     res.ToOwner.String(),
		Transfers:   transfersJSON(res.Transfers),
	}, nil
}

func (s *Server) handleInfo(*RPCRequest) (interface{}, *RPCError) {
	vest, rpcErr := s.loadVest()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return vestToJSON(vest), nil
}

func (s *Server) handleVested(req *RPCRequest) (interface{}, *RPCError) {
	now, rpcErr := s.resolveTime(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	vested, err := s.engine.Vested(now)
	if err != nil {
		return nil, s.engineError("vested", err)
	}
	return vested.String(), nil
}

func (s *Server) handleClaimable(req *RPCRequest) (interface{}, *RPCError) {
	now, rpcErr := s.resolveTime(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	claimable, err := s.engine.Claimable(now)
	if err != nil {
		return nil, s.engineError("claimable", err)
	}
	return claimable.String(), nil
}

func (s *Server) handleTotalToVest(*RPCRequest) (interface{}, *RPCError) {
	total, err := s.engine.TotalToVest()
	if err != nil {
		return nil, s.engineError("totalToVest", err)
	}
	return total.String(), nil
}

func (s *Server) handleDuration(*RPCRequest) (interface{}, *RPCError) {
	duration, active, err := s.engine.Duration()
	if err != nil {
		return nil, s.engineError("duration", err)
	}
	if !active {
		return durationResult{}, nil
	}
	return durationResult{DurationSeconds: &duration}, nil
}

func (s *Server) handleStatus(req *RPCRequest) (interface{}, *RPCError) {
	now, rpcErr := s.resolveTime(req)
	if rpcErr != nil {
		return nil, rpcErr
	}
	vest, rpcErr := s.loadVest()
	if rpcErr != nil {
		return nil, rpcErr
	}
	return statusResult{
		FundingStatus: vest.Funding.String(),
		CancelStatus:  vest.Cancellation.String(),
		Claimed:       vest.Claimed.String(),
		Vested:        vest.VestedAt(now).String(),
		AsOf:          now,
	}, nil
}

func (s *Server) handleLedgerTransfer(req *RPCRequest) (interface{}, *RPCError) {
	var params transferParams
	if len(req.Params) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "transfer params required"}
	}
	if err := unmarshalParams(req.Params[0], &params); err != nil {
		return nil, err
	}
	from, rpcErr := decodeCaller(params.From)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := decodeCaller(params.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
	if !ok || amount.Sign() < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "malformed amount"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ledger.Transfer(from, to, strings.TrimSpace(params.Denom), amount); err != nil {
		return nil, &RPCError{Code: codeVestingConflict, Message: err.Error()}
	}
	return map[string]string{"status": "ok"}, nil
}

func (s *Server) handleLedgerBalance(req *RPCRequest) (interface{}, *RPCError) {
	var params balanceParams
	if len(req.Params) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "balance params required"}
	}
	if err := unmarshalParams(req.Params[0], &params); err != nil {
		return nil, err
	}
	addr, rpcErr := decodeCaller(params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.ledger.Balance(addr, strings.TrimSpace(params.Denom))
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return balance.String(), nil
}

func (s *Server) resolveTime(req *RPCRequest) (int64, *RPCError) {
	now := s.nowFn()
	if len(req.Params) > 0 {
		var params timeParams
		if err := unmarshalParams(req.Params[0], &params); err != nil {
			return 0, err
		}
		if params.T != 0 {
			now = params.T
		}
	}
	return now, nil
}

func (s *Server) loadVest() (*vesting.Vest, *RPCError) {
	vest, err := s.store.Load()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &RPCError{Code: codeVestingNotFound, Message: "no vesting agreement instantiated"}
	}
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: err.Error()}
	}
	return vest, nil
}

func (s *Server) engineError(operation string, err error) *RPCError {
	s.metrics.RecordOperation(operation, "error")

	var withdrawal *vesting.InvalidWithdrawalError
	switch {
	case errors.Is(err, vesting.ErrNotInitialized):
		return &RPCError{Code: codeVestingNotFound, Message: err.Error()}
	case errors.Is(err, vesting.ErrNotOwner):
		return &RPCError{Code: codeVestingForbidden, Message: err.Error()}
	case errors.As(err, &withdrawal):
		return &RPCError{
			Code:    codeVestingConflict,
			Message: err.Error(),
			Data: map[string]string{
				"request":   withdrawal.Request.String(),
				"claimable": withdrawal.Claimable.String(),
			},
		}
	case errors.Is(err, vesting.ErrNotFunded),
		errors.Is(err, vesting.ErrNothingToClaim),
		errors.Is(err, vesting.ErrCancelled),
		errors.Is(err, vesting.ErrAlreadyCancelled):
		return &RPCError{Code: codeVestingConflict, Message: err.Error()}
	default:
		return &RPCError{Code: codeServerError, Message: err.Error()}
	}
}

func decodeCaller(raw string) ([20]byte, *RPCError) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeInvalidParams, Message: "invalid address: " + err.Error()}
	}
	return addr.Array(), nil
}

func unmarshalParams(raw []byte, dst interface{}) *RPCError {
	if err := jsonUnmarshalStrict(raw, dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

func transfersJSON(transfers []vesting.Transfer) []transferJSON {
	out := make([]transferJSON, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, transferJSON{
			To:     crypto.MustNewAddress(crypto.VestPrefix, t.To[:]).String(),
			Denom:  t.Denom,
			Amount: t.Amount.String(),
		})
	}
	return out
}

func vestToJSON(v *vesting.Vest) vestJSON {
	out := vestJSON{
		ID:              v.ID.String(),
		Recipient:       crypto.MustNewAddress(crypto.VestPrefix, v.Recipient[:]).String(),
		Owner:           crypto.MustNewAddress(crypto.VestPrefix, v.Owner[:]).String(),
		Denom:           v.Denom,
		Total:           v.Total.String(),
		Title:           v.Title,
		Description:     v.Description,
		StartTime:       v.StartTime,
		DurationSeconds: v.DurationSeconds,
		Schedule:        v.Curve.Kind.String(),
		FundingStatus:   v.Funding.String(),
		CancelStatus:    v.Cancellation.String(),
		Claimed:         v.Claimed.String(),
		Overpayment:     v.Overpayment.String(),
		CreatedAt:       v.CreatedAt,
	}
	if v.Cancellation == vesting.CancelCancelled {
		out.CancelledAt = v.CancelledAt
	}
	return out
}
