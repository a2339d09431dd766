package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/canteen-checkout/internal/checkout/application"
	"github.com/dmehra2102/canteen-checkout/internal/checkout/domain"
	"github.com/dmehra2102/canteen-checkout/pkg/idempotency"
	"github.com/dmehra2102/canteen-checkout/pkg/metrics"
	"github.com/dmehra2102/canteen-checkout/pkg/money"
)

const IdempotencyHeader = "Idempotency-Key"

// Services groups the application services the HTTP API exposes.
type Services struct {
	Store    application.Store
	Carts    *application.CartStore
	Wallets  *application.WalletLedger
	Quotas   *application.QuotaLedger
	Orders   *application.OrderBook
	Checkout *application.SettlementCoordinator
	Clock    application.Clock
}

type Handler struct {
	log     *slog.Logger
	svc     Services
	idem    *idempotency.Store
	metrics *metrics.ServerMetrics
	tracer  trace.Tracer
}

// NewHandler builds the API. idem may be nil, in which case Idempotency-Key is ignored.
func NewHandler(log *slog.Logger, svc Services, idem *idempotency.Store, m *metrics.ServerMetrics) *Handler {
	return &Handler{
		log:     log,
		svc:     svc,
		idem:    idem,
		metrics: m,
		tracer:  otel.Tracer("canteen-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(h.requireUser)

		r.Get("/cart", h.getCart)
		r.Delete("/cart", h.clearCart)
		r.Post("/cart/items", h.addItem)
		r.Patch("/cart/items/{id}", h.setQuantity)
		r.Delete("/cart/items/{id}", h.removeItem)

		r.Post("/checkout", h.checkout)
		r.Get("/quota", h.getQuota)

		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/admin/orders", h.listAllOrders)
		r.Patch("/admin/orders/{id}", h.updateOrderStatus)

		r.Get("/wallet", h.getWallet)
		r.Get("/wallet/transactions", h.listTransactions)
		r.Post("/wallet/topup", h.topUp)
	})
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "store": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCart")
	defer span.End()

	snap, err := h.svc.Carts.Snapshot(ctx, userFrom(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ClearCart")
	defer span.End()

	snap, err := h.svc.Carts.Clear(ctx, userFrom(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type addItemReq struct {
	ItemID int64 `json:"item_id"`
	Qty    *int  `json:"qty"`
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem")
	defer span.End()

	var req addItemReq
	if err := decode(w, r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}
	span.SetAttributes(attribute.Int64("item_id", req.ItemID), attribute.Int("qty", qty))

	line, err := h.svc.Carts.AddOrIncrement(ctx, userFrom(ctx), req.ItemID, qty)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

type setQuantityReq struct {
	Qty int `json:"qty"`
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SetCartItemQuantity")
	defer span.End()

	lineID, err := int64Param(r, "id")
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	var req setQuantityReq
	if err := decode(w, r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	line, err := h.svc.Carts.SetQuantity(ctx, userFrom(ctx), lineID, req.Qty)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveCartItem")
	defer span.End()

	lineID, err := int64Param(r, "id")
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	snap, err := h.svc.Carts.RemoveLine(ctx, userFrom(ctx), lineID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type checkoutReq struct {
	PickupTime string `json:"pickup_time"`
}

type checkoutResp struct {
	OK         bool               `json:"ok"`
	OrderID    uuid.UUID          `json:"order_id"`
	Status     domain.OrderStatus `json:"status"`
	TotalMinor int64              `json:"total_minor"`
	PaidMinor  int64              `json:"paid_minor"`
	Total      string             `json:"total"`
	Paid       string             `json:"paid"`
	Order      domain.Order       `json:"order"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()
	userID := userFrom(ctx)

	var req checkoutReq
	if err := decode(w, r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}

	idemKey := ""
	if key := strings.TrimSpace(r.Header.Get(IdempotencyHeader)); key != "" && h.idem != nil {
		idemKey = h.idem.RequestKey(fmt.Sprintf("checkout:%d", userID), key)
		rec, started, err := h.idem.Begin(ctx, idemKey)
		if err != nil {
			h.fail(ctx, w, fmt.Errorf("idempotency begin: %w", err))
			return
		}
		if !started {
			if rec.State == idempotency.StateCompleted {
				w.Header().Set("Idempotent-Replayed", "true")
				writeRaw(w, rec.Status, rec.Body)
				return
			}
			h.fail(ctx, w, fmt.Errorf("%w: a checkout with this %s is in progress", domain.ErrConflict, IdempotencyHeader))
			return
		}
	}

	order, err := h.svc.Checkout.Checkout(ctx, userID, req.PickupTime)
	if err != nil {
		if idemKey != "" {
			if ferr := h.idem.Forget(context.WithoutCancel(ctx), idemKey); ferr != nil {
				h.log.WarnContext(ctx, "idempotency release failed", "err", ferr)
			}
		}
		h.metrics.Checkouts.WithLabelValues(string(domain.KindOf(err))).Inc()
		h.fail(ctx, w, err)
		return
	}
	h.metrics.Checkouts.WithLabelValues("committed").Inc()
	span.SetAttributes(attribute.String("order_id", order.ID.String()))

	body, err := json.Marshal(checkoutResp{
		OK:         true,
		OrderID:    order.ID,
		Status:     order.Status,
		TotalMinor: order.Total.Int64(),
		PaidMinor:  order.Paid.Int64(),
		Total:      order.Total.FormatMajor(),
		Paid:       order.Paid.FormatMajor(),
		Order:      order,
	})
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	if idemKey != "" {
		if err := h.idem.Complete(context.WithoutCancel(ctx), idemKey, http.StatusCreated, body); err != nil {
			h.log.WarnContext(ctx, "idempotency complete failed", "err", err)
		}
	}
	writeRaw(w, http.StatusCreated, body)
}

type quotaResp struct {
	ServiceDay domain.ServiceDay `json:"service_day"`
	PaidCount  int               `json:"paid_count"`
	Limit      int               `json:"limit"`
	Remaining  int               `json:"remaining"`
}

func (h *Handler) getQuota(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetQuota")
	defer span.End()

	day := domain.ServiceDayOf(h.svc.Clock.Now(), h.svc.Clock.Location())
	q, err := h.svc.Quotas.Usage(ctx, userFrom(ctx), day)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	limit := h.svc.Quotas.Limit()
	writeJSON(w, http.StatusOK, quotaResp{
		ServiceDay: day,
		PaidCount:  q.PaidCount,
		Limit:      limit,
		Remaining:  max(limit-q.PaidCount, 0),
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	orders, err := h.svc.Orders.ListOrders(ctx, userFrom(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListAllOrders")
	defer span.End()

	var filter *domain.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !ok {
			h.fail(ctx, w, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, raw))
			return
		}
		filter = &status
		span.SetAttributes(attribute.String("status", string(status)))
	}
	orders, err := h.svc.Orders.ListAll(ctx, userFrom(ctx), filter)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, domain.ErrOrderNotFound)
		return
	}
	o, err := h.svc.Orders.GetOrder(ctx, userFrom(ctx), id)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type updateStatusReq struct {
	Status string `json:"status"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, domain.ErrOrderNotFound)
		return
	}
	var req updateStatusReq
	if err := decode(w, r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	status, ok := domain.ParseOrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !ok {
		h.fail(ctx, w, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, req.Status))
		return
	}
	o, err := h.svc.Orders.UpdateStatus(ctx, userFrom(ctx), id, status)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type walletResp struct {
	UserID       int64  `json:"user_id"`
	BalanceMinor int64  `json:"balance_minor"`
	Balance      string `json:"balance"`
}

func newWalletResp(userID int64, balance money.Money) walletResp {
	return walletResp{UserID: userID, BalanceMinor: balance.Int64(), Balance: balance.FormatMajor()}
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetWallet")
	defer span.End()
	userID := userFrom(ctx)

	balance, err := h.svc.Wallets.Balance(ctx, userID)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, newWalletResp(userID, balance))
}

type transactionResp struct {
	ID          int64         `json:"id"`
	Kind        domain.TxKind `json:"kind"`
	AmountMinor int64         `json:"amount_minor"`
	Ref         string        `json:"ref"`
	CreatedAt   time.Time     `json:"created_at"`
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListWalletTransactions")
	defer span.End()

	txs, err := h.svc.Wallets.Transactions(ctx, userFrom(ctx))
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	out := make([]transactionResp, 0, len(txs))
	for _, t := range txs {
		out = append(out, transactionResp{ID: t.ID, Kind: t.Kind, AmountMinor: t.Amount.Int64(), Ref: t.Ref, CreatedAt: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

type topUpReq struct {
	AmountMinor int64  `json:"amount_minor"`
	Amount      string `json:"amount"`
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "TopUpWallet")
	defer span.End()
	userID := userFrom(ctx)

	var req topUpReq
	if err := decode(w, r, &req); err != nil {
		h.fail(ctx, w, err)
		return
	}
	amount := money.Minor(req.AmountMinor)
	if req.Amount != "" {
		parsed, err := money.ParseMajor(req.Amount)
		if err != nil {
			h.fail(ctx, w, fmt.Errorf("%w: %v", domain.ErrInvalidAmount, err))
			return
		}
		amount = parsed
	}

	wallet, err := h.svc.Wallets.TopUp(ctx, userID, amount)
	if err != nil {
		h.metrics.TopUps.WithLabelValues("http", string(domain.KindOf(err))).Inc()
		h.fail(ctx, w, err)
		return
	}
	h.metrics.TopUps.WithLabelValues("http", "committed").Inc()
	writeJSON(w, http.StatusOK, newWalletResp(userID, wallet.Balance))
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, name)
	}
	return v, nil
}
