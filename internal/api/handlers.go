package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xtrntr/settlement/internal/auth"
	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/exchange"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/token"
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Exchange    *exchange.Exchange
	AuthService *auth.AuthService
	Tokens      *token.Registry
	Bus         *events.Bus
	Logger      *zap.Logger
	validate    *validator.Validate
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, authService *auth.AuthService, tokens *token.Registry, bus *events.Bus, logger *zap.Logger) *Handler {
	return &Handler{
		Exchange:    ex,
		AuthService: authService,
		Tokens:      tokens,
		Bus:         bus,
		Logger:      logger,
		validate:    validator.New(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps a settlement failure kind to an HTTP status.
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.ErrNotAuthorized, models.ErrNotOrderOwner:
		return http.StatusForbidden
	case models.ErrCommitmentNotFound:
		return http.StatusNotFound
	case models.ErrCommitmentExists, models.ErrAlreadyRevealed, models.ErrOrderAlreadyFilled,
		models.ErrEmergencyStopActive, models.ErrTradingNotStopped:
		return http.StatusConflict
	case models.ErrInsufficientBalance, models.ErrInsufficientAllowance, models.ErrDailyLimitExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

// writeError reports err with the status its kind maps to. Errors without a
// kind are logged and hidden behind a 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var kind models.ErrorKind
	if !errors.As(err, &kind) {
		h.Logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, statusFor(kind), map[string]string{"error": err.Error(), "kind": string(kind)})
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMessage(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	s := chi.URLParam(r, name)
	if !common.IsHexAddress(s) {
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s address", name))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// Challenge issues a login challenge for an account
func (h *Handler) Challenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account string `json:"account" validate:"required,eth_addr"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	text, err := h.AuthService.Challenge(r.Context(), common.HexToAddress(req.Account))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"challenge": text})
}

// Login exchanges a signed challenge for a JWT
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account   string `json:"account" validate:"required,eth_addr"`
		Signature string `json:"signature" validate:"required,hexadecimal"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.AuthService.Login(r.Context(), common.HexToAddress(req.Account), common.FromHex(req.Signature))
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// OperatorLogin handles operator username/password login
func (h *Handler) OperatorLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username" validate:"required,max=50"`
		Password string `json:"password" validate:"required,max=72"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.AuthService.OperatorLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type orderRequest struct {
	Order models.Order `json:"order"`
}

// HashOrder returns the digest a trader signs
func (h *Handler) HashOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	hash, err := h.Exchange.HashOrder(req.Order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]common.Hash{"hash": hash})
}

// CommitOrder records the caller's commitment to an order hash
func (h *Handler) CommitOrder(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req struct {
		OrderHash string `json:"orderHash" validate:"required,hexadecimal,len=66"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.Exchange.CommitOrder(r.Context(), claims.Account, common.HexToHash(req.OrderHash))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// RevealOrder discloses one of the caller's committed orders
func (h *Handler) RevealOrder(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req orderRequest
	if !h.decode(w, r, &req) {
		return
	}
	hash, err := h.Exchange.RevealOrder(r.Context(), claims.Account, req.Order)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]common.Hash{"orderHash": hash})
}

// GetCommitment reports a commitment's lifecycle state
func (h *Handler) GetCommitment(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	hash := chi.URLParam(r, "hash")
	if err := h.validate.Var(hash, "hexadecimal,len=66"); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid order hash")
		return
	}
	st, err := h.Exchange.GetCommitment(r.Context(), account, common.HexToHash(hash))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetNonce returns the nonce an account's next order must carry
func (h *Handler) GetNonce(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	n, err := h.Exchange.GetNonce(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"account": account, "nonce": n})
}

// Approve sets the exchange's allowance over the caller's token
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	tokenAddr, ok := addressParam(w, r, "token")
	if !ok {
		return
	}
	var req struct {
		Amount string `json:"amount" validate:"required,numeric"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	tok, err := h.Tokens.Lookup(tokenAddr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := token.ParseUnits(req.Amount, tok.Decimals)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Exchange.Approve(r.Context(), claims.Account, tokenAddr, amount); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   tok.Symbol,
		"spender": h.Exchange.Address().Hex(),
		"amount":  amount.String(),
	})
}

// GetBalance returns an account's balance and allowance of a token
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, ok := addressParam(w, r, "token")
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "account")
	if !ok {
		return
	}
	tok, err := h.Tokens.Lookup(tokenAddr)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	bal, err := h.Exchange.Balance(r.Context(), tokenAddr, account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	allowance, err := h.Exchange.Allowance(r.Context(), tokenAddr, account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     tok.Symbol,
		"account":   account.Hex(),
		"balance":   bal.String(),
		"formatted": token.FormatUnits(bal, tok.Decimals),
		"allowance": allowance.String(),
	})
}

// SettleTrade submits a signed order pair for settlement
func (h *Handler) SettleTrade(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req struct {
		Maker          models.Order `json:"maker"`
		Taker          models.Order `json:"taker"`
		MakerSignature string       `json:"makerSignature" validate:"required,hexadecimal"`
		TakerSignature string       `json:"takerSignature" validate:"required,hexadecimal"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	trade, err := h.Exchange.SettleTrade(r.Context(), claims.Account, req.Maker, req.Taker,
		common.FromHex(req.MakerSignature), common.FromHex(req.TakerSignature))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// GetTrades lists settled trades, optionally filtered by ?account=
func (h *Handler) GetTrades(w http.ResponseWriter, r *http.Request) {
	var account common.Address
	if s := r.URL.Query().Get("account"); s != "" {
		if !common.IsHexAddress(s) {
			writeMessage(w, http.StatusBadRequest, "Invalid account address")
			return
		}
		account = common.HexToAddress(s)
	}
	trades, err := h.Exchange.Trades(r.Context(), account)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// GetFeeRecipients returns the fixed fee destinations
func (h *Handler) GetFeeRecipients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.GetFeeRecipients())
}

// GetStats returns trading statistics and the emergency state
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Exchange.GetTradingStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	em, err := h.Exchange.GetEmergencyState(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stats": stats, "emergency": em})
}

// EmergencyStop halts settlement
func (h *Handler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var req struct {
		Reason string `json:"reason" validate:"required,max=256"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Exchange.EmergencyStopTrading(r.Context(), claims.Account, req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Trading stopped"})
}

// Resume re-enables settlement
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	if err := h.Exchange.ResumeTrading(r.Context(), claims.Account); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Trading resumed"})
}
