package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"marketflow/dispute"
	"marketflow/escrow"
	"marketflow/identity"
	"marketflow/ledger"
	"marketflow/offer"
	"marketflow/product"
	"marketflow/trade"
)

type identityService interface {
	Register(ctx context.Context, req identity.RegisterRequest) (*identity.User, error)
	Login(ctx context.Context, req identity.LoginRequest) (identity.LoginResult, error)
	VerifyToken(token string) (identity.Claims, error)
}

type offerService interface {
	Create(ctx context.Context, buyerEmail, productID string, price decimal.Decimal) (offer.Offer, error)
	Counter(ctx context.Context, offerID, actorEmail string, price decimal.Decimal) (offer.Offer, error)
	Accept(ctx context.Context, offerID, actorEmail string) (offer.Offer, decimal.Decimal, error)
	Reject(ctx context.Context, offerID, actorEmail string) (offer.Offer, error)
	Get(ctx context.Context, offerID, callerEmail string) (offer.Offer, error)
}

type escrowService interface {
	Open(ctx context.Context, params escrow.OpenParams) (escrow.Transaction, error)
	ConfirmPayment(ctx context.Context, id, paymentRef string) (escrow.Transaction, error)
	MarkShipped(ctx context.Context, id, sellerEmail, trackingNumber string) (escrow.Transaction, error)
	MarkDelivered(ctx context.Context, id string) (escrow.Transaction, error)
	Cancel(ctx context.Context, id, actorEmail string) (escrow.Transaction, error)
	Get(ctx context.Context, id, actorEmail string) (escrow.Transaction, error)
}

type disputeService interface {
	File(ctx context.Context, transactionID, buyerEmail, reason, description string, evidence []string) (dispute.Record, error)
	StartReview(ctx context.Context, disputeID string, resolver identity.Claims) (dispute.Record, error)
	Resolve(ctx context.Context, disputeID string, resolver identity.Claims, res dispute.Resolution) (dispute.Record, error)
}

type tradeService interface {
	Initiate(ctx context.Context, conversationID, initiatorEmail, counterpartyEmail string) (trade.Shipment, error)
	SelectVariant(ctx context.Context, shipmentID, actorEmail string, variant trade.Variant) (trade.Shipment, error)
	SubmitTracking(ctx context.Context, shipmentID, actorEmail, tracking string) (trade.Shipment, error)
	ConfirmDelivery(ctx context.Context, shipmentID, actorEmail string) (trade.Shipment, error)
	Get(ctx context.Context, shipmentID, actorEmail string) (trade.Shipment, error)
}

// Server is the JSON surface over the deal engine. Handlers stay thin:
// decode, call the service, map sentinel errors onto status codes.
type Server struct {
	identity identityService
	offers   offerService
	escrows  escrowService
	disputes disputeService
	trades   tradeService
	log      *zap.Logger
}

func NewServer(ids identityService, offers offerService, escrows escrowService, disputes disputeService, trades tradeService, log *zap.Logger) *Server {
	return &Server{
		identity: ids,
		offers:   offers,
		escrows:  escrows,
		disputes: disputes,
		trades:   trades,
		log:      log,
	}
}

// Routes builds the HTTP mux. Webhook endpoints are unauthenticated; they
// carry their own idempotency guarantees instead.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)

	mux.HandleFunc("POST /api/offers", s.auth(s.handleCreateOffer))
	mux.HandleFunc("GET /api/offers/{id}", s.auth(s.handleGetOffer))
	mux.HandleFunc("POST /api/offers/{id}/counter", s.auth(s.handleCounterOffer))
	mux.HandleFunc("POST /api/offers/{id}/accept", s.auth(s.handleAcceptOffer))
	mux.HandleFunc("POST /api/offers/{id}/reject", s.auth(s.handleRejectOffer))

	mux.HandleFunc("POST /api/orders", s.auth(s.handleOpenOrder))
	mux.HandleFunc("GET /api/orders/{id}", s.auth(s.handleGetOrder))
	mux.HandleFunc("POST /api/orders/{id}/ship", s.auth(s.handleShipOrder))
	mux.HandleFunc("POST /api/orders/{id}/cancel", s.auth(s.handleCancelOrder))
	mux.HandleFunc("POST /api/orders/{id}/disputes", s.auth(s.handleFileDispute))

	mux.HandleFunc("POST /api/disputes/{id}/review", s.auth(s.handleReviewDispute))
	mux.HandleFunc("POST /api/disputes/{id}/resolve", s.auth(s.handleResolveDispute))

	mux.HandleFunc("POST /api/trades", s.auth(s.handleInitiateTrade))
	mux.HandleFunc("GET /api/trades/{id}", s.auth(s.handleGetTrade))
	mux.HandleFunc("POST /api/trades/{id}/variant", s.auth(s.handleSelectVariant))
	mux.HandleFunc("POST /api/trades/{id}/tracking", s.auth(s.handleSubmitTracking))
	mux.HandleFunc("POST /api/trades/{id}/confirm", s.auth(s.handleConfirmTrade))

	mux.HandleFunc("POST /api/webhooks/payment", s.handlePaymentWebhook)
	mux.HandleFunc("POST /api/webhooks/delivery", s.handleDeliveryWebhook)

	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims identity.Claims)

func (s *Server) auth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := s.identity.VerifyToken(token)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r, claims)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	user, err := s.identity.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req identity.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.identity.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"email": result.User.Email,
		"role":  string(result.User.Role),
	})
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		ProductID string          `json:"product_id"`
		Price     decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := s.offers.Create(r.Context(), claims.Email, req.ProductID, req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOfferResponse(o))
}

func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	o, err := s.offers.Get(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) handleCounterOffer(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		Price decimal.Decimal `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	o, err := s.offers.Counter(r.Context(), r.PathValue("id"), claims.Email, req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) handleAcceptOffer(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	o, agreed, err := s.offers.Accept(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := toOfferResponse(o)
	resp.AgreedPrice = agreed.StringFixed(2)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	o, err := s.offers.Reject(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOfferResponse(o))
}

func (s *Server) handleOpenOrder(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		ProductID        string `json:"product_id"`
		ShippingOptionID string `json:"shipping_option_id"`
		DiscountCode     string `json:"discount_code"`
		OfferID          string `json:"offer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.escrows.Open(r.Context(), escrow.OpenParams{
		BuyerEmail:       claims.Email,
		ProductID:        req.ProductID,
		ShippingOptionID: req.ShippingOptionID,
		DiscountCode:     req.DiscountCode,
		OfferID:          req.OfferID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(rec))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	rec, err := s.escrows.Get(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(rec))
}

func (s *Server) handleShipOrder(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.escrows.MarkShipped(r.Context(), r.PathValue("id"), claims.Email, req.TrackingNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(rec))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	rec, err := s.escrows.Cancel(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(rec))
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		Reason         string   `json:"reason"`
		Description    string   `json:"description"`
		EvidenceImages []string `json:"evidence_images"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.disputes.File(r.Context(), r.PathValue("id"), claims.Email, req.Reason, req.Description, req.EvidenceImages)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleReviewDispute(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	rec, err := s.disputes.StartReview(r.Context(), r.PathValue("id"), claims)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		Outcome       string          `json:"outcome"`
		RefundAmount  decimal.Decimal `json:"refund_amount"`
		KeepProduct   bool            `json:"keep_product"`
		ReversePayout bool            `json:"reverse_payout"`
		Notes         string          `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.disputes.Resolve(r.Context(), r.PathValue("id"), claims, dispute.Resolution{
		Outcome:       dispute.Outcome(req.Outcome),
		RefundAmount:  req.RefundAmount,
		KeepProduct:   req.KeepProduct,
		ReversePayout: req.ReversePayout,
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleInitiateTrade(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		ConversationID    string `json:"conversation_id"`
		CounterpartyEmail string `json:"counterparty_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sh, err := s.trades.Initiate(r.Context(), req.ConversationID, claims.Email, req.CounterpartyEmail)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTradeResponse(sh))
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	sh, err := s.trades.Get(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(sh))
}

func (s *Server) handleSelectVariant(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		Variant string `json:"variant"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sh, err := s.trades.SelectVariant(r.Context(), r.PathValue("id"), claims.Email, trade.Variant(req.Variant))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(sh))
}

func (s *Server) handleSubmitTracking(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	var req struct {
		TrackingNumber string `json:"tracking_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sh, err := s.trades.SubmitTracking(r.Context(), r.PathValue("id"), claims.Email, req.TrackingNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(sh))
}

func (s *Server) handleConfirmTrade(w http.ResponseWriter, r *http.Request, claims identity.Claims) {
	sh, err := s.trades.ConfirmDelivery(r.Context(), r.PathValue("id"), claims.Email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeResponse(sh))
}

// handlePaymentWebhook is the PSP's at-least-once payment confirmation.
// Replays return 200 with the current record.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id"`
		PaymentRef    string `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.escrows.ConfirmPayment(r.Context(), req.TransactionID, req.PaymentRef)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(rec))
}

// handleDeliveryWebhook is the carrier's delivery confirmation.
func (s *Server) handleDeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transaction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, err := s.escrows.MarkDelivered(r.Context(), req.TransactionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(rec))
}

// writeError maps domain sentinels onto HTTP status codes. Unknown errors
// are logged and surface as an opaque 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, offer.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, trade.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeJSONError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, offer.ErrNotParty),
		errors.Is(err, escrow.ErrNotParty),
		errors.Is(err, escrow.ErrNotSeller),
		errors.Is(err, dispute.ErrNotBuyer),
		errors.Is(err, dispute.ErrNotArbitrator),
		errors.Is(err, dispute.ErrArbitratorIsParty),
		errors.Is(err, trade.ErrNotParty):
		writeJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, offer.ErrDuplicateLive),
		errors.Is(err, offer.ErrNotYourTurn),
		errors.Is(err, offer.ErrTerminal),
		errors.Is(err, escrow.ErrProductNoLongerAvailable),
		errors.Is(err, escrow.ErrBadStatus),
		errors.Is(err, dispute.ErrDuplicate),
		errors.Is(err, dispute.ErrBadStatus),
		errors.Is(err, trade.ErrDuplicateLive),
		errors.Is(err, trade.ErrBadStatus),
		errors.Is(err, trade.ErrAlreadySubmitted),
		errors.Is(err, identity.ErrDuplicateEmail),
		errors.Is(err, product.ErrUnavailable):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, offer.ErrExpired),
		errors.Is(err, dispute.ErrWindowClosed):
		writeJSONError(w, http.StatusGone, err.Error())
	case errors.Is(err, offer.ErrInvalidPrice),
		errors.Is(err, offer.ErrOwnListing),
		errors.Is(err, offer.ErrNegotiationDisabled),
		errors.Is(err, offer.ErrProductUnavailable),
		errors.Is(err, escrow.ErrOwnListing),
		errors.Is(err, escrow.ErrInvalidShippingOption),
		errors.Is(err, escrow.ErrDiscountNotApplicable),
		errors.Is(err, escrow.ErrOfferNotAccepted),
		errors.Is(err, escrow.ErrInvalidItemPrice),
		errors.Is(err, dispute.ErrMissingReason),
		errors.Is(err, dispute.ErrInvalidOutcome),
		errors.Is(err, dispute.ErrInvalidRefund),
		errors.Is(err, trade.ErrSameParty),
		errors.Is(err, trade.ErrInvalidVariant),
		errors.Is(err, trade.ErrMissingTracking),
		errors.Is(err, identity.ErrWeakPassword),
		errors.Is(err, ledger.ErrInvalidAmount):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("unhandled request error", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

type offerResponse struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	BuyerEmail    string `json:"buyer_email"`
	SellerEmail   string `json:"seller_email"`
	OriginalPrice string `json:"original_price"`
	ProposedPrice string `json:"proposed_price"`
	CounterPrice  string `json:"counter_price,omitempty"`
	AgreedPrice   string `json:"agreed_price,omitempty"`
	Status        string `json:"status"`
	LastActionBy  string `json:"last_action_by"`
	ExpiresAt     string `json:"expires_at"`
	CreatedAt     string `json:"created_at"`
}

func toOfferResponse(o offer.Offer) offerResponse {
	resp := offerResponse{
		ID:            o.ID,
		ProductID:     o.ProductID,
		BuyerEmail:    o.BuyerEmail,
		SellerEmail:   o.SellerEmail,
		OriginalPrice: o.OriginalPrice.StringFixed(2),
		ProposedPrice: o.ProposedPrice.StringFixed(2),
		Status:        string(o.Status),
		LastActionBy:  string(o.LastActionBy),
		ExpiresAt:     o.ExpiresAt.Format(time.RFC3339),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
	}
	if o.CounterPrice != nil {
		resp.CounterPrice = o.CounterPrice.StringFixed(2)
	}
	if o.AgreedPrice != nil {
		resp.AgreedPrice = o.AgreedPrice.StringFixed(2)
	}
	return resp
}

type orderResponse struct {
	ID                 string `json:"id"`
	ProductID          string `json:"product_id"`
	BuyerEmail         string `json:"buyer_email"`
	SellerEmail        string `json:"seller_email"`
	ItemPrice          string `json:"item_price"`
	BuyerProtectionFee string `json:"buyer_protection_fee"`
	ShippingPrice      string `json:"shipping_price"`
	Discount           string `json:"discount"`
	TotalPrice         string `json:"total_price"`
	Status             string `json:"status"`
	ShippingDeadline   string `json:"shipping_deadline"`
	DisputeDeadline    string `json:"dispute_deadline,omitempty"`
	TrackingNumber     string `json:"tracking_number,omitempty"`
	ShippingOverdue    bool   `json:"shipping_overdue"`
	CreatedAt          string `json:"created_at"`
}

func toOrderResponse(t escrow.Transaction) orderResponse {
	resp := orderResponse{
		ID:                 t.ID,
		ProductID:          t.ProductID,
		BuyerEmail:         t.BuyerEmail,
		SellerEmail:        t.SellerEmail,
		ItemPrice:          t.ItemPrice.StringFixed(2),
		BuyerProtectionFee: t.BuyerProtectionFee.StringFixed(2),
		ShippingPrice:      t.ShippingPrice.StringFixed(2),
		Discount:           t.Discount.StringFixed(2),
		TotalPrice:         t.TotalPrice.StringFixed(2),
		Status:             string(t.Status),
		ShippingDeadline:   t.ShippingDeadline.Format(time.RFC3339),
		ShippingOverdue:    t.ShippingOverdue,
		CreatedAt:          t.CreatedAt.Format(time.RFC3339),
	}
	if t.DisputeDeadline != nil {
		resp.DisputeDeadline = t.DisputeDeadline.Format(time.RFC3339)
	}
	if t.TrackingNumber != nil {
		resp.TrackingNumber = *t.TrackingNumber
	}
	return resp
}

type disputeResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	BuyerEmail    string `json:"buyer_email"`
	SellerEmail   string `json:"seller_email"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
	Outcome       string `json:"outcome,omitempty"`
	RefundAmount  string `json:"refund_amount,omitempty"`
	KeepProduct   bool   `json:"keep_product"`
	ResolvedBy    string `json:"resolved_by,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toDisputeResponse(d dispute.Record) disputeResponse {
	resp := disputeResponse{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		BuyerEmail:    d.BuyerEmail,
		SellerEmail:   d.SellerEmail,
		Reason:        d.Reason,
		Status:        string(d.Status),
		KeepProduct:   d.KeepProduct,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
	if d.Outcome != nil {
		resp.Outcome = string(*d.Outcome)
	}
	if d.RefundAmount != nil {
		resp.RefundAmount = d.RefundAmount.StringFixed(2)
	}
	if d.ResolvedBy != nil {
		resp.ResolvedBy = *d.ResolvedBy
	}
	return resp
}

type tradeResponse struct {
	ID              string `json:"id"`
	ConversationID  string `json:"conversation_id"`
	Variant         string `json:"variant,omitempty"`
	PartyAEmail     string `json:"party_a_email"`
	PartyBEmail     string `json:"party_b_email"`
	PartyATracking  string `json:"party_a_tracking,omitempty"`
	PartyBTracking  string `json:"party_b_tracking,omitempty"`
	PartyAConfirmed bool   `json:"party_a_confirmed"`
	PartyBConfirmed bool   `json:"party_b_confirmed"`
	Status          string `json:"status"`
	Deadline        string `json:"deadline"`
	ForfeitedParty  string `json:"forfeited_party,omitempty"`
}

func toTradeResponse(sh trade.Shipment) tradeResponse {
	resp := tradeResponse{
		ID:              sh.ID,
		ConversationID:  sh.ConversationID,
		PartyAEmail:     sh.PartyAEmail,
		PartyBEmail:     sh.PartyBEmail,
		PartyAConfirmed: sh.PartyAConfirmed,
		PartyBConfirmed: sh.PartyBConfirmed,
		Status:          string(sh.Status),
		Deadline:        sh.Deadline.Format(time.RFC3339),
	}
	if sh.Variant != nil {
		resp.Variant = string(*sh.Variant)
	}
	if sh.PartyATracking != nil {
		resp.PartyATracking = *sh.PartyATracking
	}
	if sh.PartyBTracking != nil {
		resp.PartyBTracking = *sh.PartyBTracking
	}
	if sh.ForfeitedParty != nil {
		resp.ForfeitedParty = *sh.ForfeitedParty
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
