package gateway

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"crossvault/vault"
)

type actionRequest struct {
	User      string `json:"user"`
	Amount    string `json:"amount"`
	FeeBudget string `json:"feeBudget"`
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	User       string `json:"user"`
	FeeBudget  string `json:"feeBudget"`
}

type reconcileRequest struct {
	User      string `json:"user"`
	DestChain string `json:"destChain"`
	FeeBudget string `json:"feeBudget"`
}

type receiveRequest struct {
	Origin      string `json:"origin"`
	OriginVault string `json:"originVault"`
	Payload     string `json:"payload"`
}

type receiptResponse struct {
	Receipt string `json:"receipt"`
	Status  string `json:"status"`
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("gateway: decode request: %w", err)
	}
	return nil
}

func parseAddress(raw, field string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("gateway: invalid %s address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("gateway: %s required", field)
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("gateway: invalid %s %q", field, raw)
	}
	return value, nil
}

func parseBudget(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("gateway: invalid feeBudget %q", raw)
	}
	return value, nil
}

type actionFunc func(r *http.Request, user common.Address, amount, budget *big.Int) error

// handleAction is the shared decode-validate-dispatch path for the amount
// carrying vault operations.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, name string, action actionFunc) {
	var req actionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	budget, err := parseBudget(req.FeeBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := action(r, user, amount, budget); err != nil {
		s.log.Warn("vault action rejected", "action", name, "user", user.Hex(), "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	receipt := uuid.NewString()
	s.log.Info("vault action accepted", "action", name, "user", user.Hex(), "receipt", receipt)
	writeJSON(w, http.StatusAccepted, receiptResponse{Receipt: receipt, Status: "accepted"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "deposit", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.Deposit(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "withdraw", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.Withdraw(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "borrow", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.Borrow(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "repay", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.Repay(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "supply", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.Supply(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleWithdrawSupplied(w http.ResponseWriter, r *http.Request) {
	s.handleAction(w, r, "withdrawSupplied", func(r *http.Request, user common.Address, amount, budget *big.Int) error {
		return s.engine.WithdrawSupplied(r.Context(), user, amount, budget)
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	liquidator, err := parseAddress(req.Liquidator, "liquidator")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	budget, err := parseBudget(req.FeeBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	repaid, seized, err := s.engine.Liquidate(r.Context(), liquidator, user, budget)
	if err != nil {
		s.log.Warn("liquidation rejected", "user", user.Hex(), "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"receipt": uuid.NewString(),
		"repaid":  repaid.String(),
		"seized":  seized.String(),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := parseAddress(req.User, "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	budget, err := parseBudget(req.FeeBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.Reconcile(r.Context(), user, req.DestChain, budget); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receiptResponse{Receipt: uuid.NewString(), Status: "accepted"})
}

// handleReceive is the peer-facing inbound endpoint. Duplicates are reported
// as applied: from the relayer's point of view the message is settled either
// way. The origin vault address is mandatory here so the registry's peer
// check always runs for HTTP deliveries; the engine's zero-address bypass is
// reserved for in-process transports.
func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	originVault, err := parseAddress(req.OriginVault, "originVault")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if originVault == (common.Address{}) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: originVault required"))
		return
	}
	payload, err := hexutil.Decode(strings.TrimSpace(req.Payload))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gateway: invalid payload hex: %w", err))
		return
	}
	if err := s.engine.Receive(req.Origin, originVault, payload); err != nil {
		s.log.Warn("inbound message rejected", "origin", req.Origin, "error", err)
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type positionView struct {
	Chain      string `json:"chain"`
	Collateral string `json:"collateral"`
	Borrowed   string `json:"borrowed"`
	Supplied   string `json:"supplied"`
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"), "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agg, err := s.engine.Aggregate(user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	breakdown, err := s.engine.ChainBreakdown(user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	chains := make([]positionView, 0, len(breakdown))
	for _, pos := range breakdown {
		chains = append(chains, positionView{
			Chain:      pos.Chain,
			Collateral: pos.Collateral.String(),
			Borrowed:   pos.Borrowed.String(),
			Supplied:   pos.Supplied.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":            user.Hex(),
		"totalCollateral": agg.TotalCollateral.String(),
		"totalBorrowed":   agg.TotalBorrowed.String(),
		"totalSupplied":   agg.TotalSupplied.String(),
		"chains":          chains,
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress(chi.URLParam(r, "user"), "user")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agg, err := s.engine.Aggregate(user)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	health := "max"
	if agg.HealthFactor.Cmp(vault.MaxHealthFactor) != 0 {
		health = agg.HealthFactor.FloatString(6)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user":            user.Hex(),
		"creditLine":      agg.CreditLine.String(),
		"totalCollateral": agg.TotalCollateral.String(),
		"totalBorrowed":   agg.TotalBorrowed.String(),
		"healthFactor":    health,
	})
}

func (s *Server) handlePoolView(w http.ResponseWriter, r *http.Request) {
	chain := strings.TrimSpace(chi.URLParam(r, "chain"))
	pool, err := s.engine.PoolState(chain)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	supply, borrow, err := s.engine.PoolRates(chain)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"chain":      chain,
		"supplied":   pool.SuppliedTotal.String(),
		"utilized":   pool.UtilizedTotal.String(),
		"available":  pool.AvailableLiquidity().String(),
		"supplyRate": supply.FloatString(6),
		"borrowRate": borrow.FloatString(6),
	})
}
