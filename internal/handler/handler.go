package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/payflow/internal/infrastructure/auth"
	service "github.com/honeynil/payflow/internal/services"
	pkgerrors "github.com/honeynil/payflow/pkg/errors"
)

type Handler struct {
	accounts service.AccountService
	payments service.PaymentService
}

func NewHandler(accounts service.AccountService, payments service.PaymentService) *Handler {
	return &Handler{accounts: accounts, payments: payments}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/logout", h.Logout).Methods("POST")
	r.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	r.HandleFunc("/payments", h.ListPayments).Methods("GET")
	r.HandleFunc("/payments/stats", h.DashboardStats).Methods("GET")
	r.HandleFunc("/payments/recent", h.RecentTransactions).Methods("GET")
	r.HandleFunc("/payments/{ref}", h.GetPaymentStatus).Methods("GET")
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	account, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrEmailExists):
			h.writeError(w, http.StatusConflict, err)
		case errors.Is(err, pkgerrors.ErrInvalidCredentials):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	token, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrInvalidCredentials) {
			h.writeError(w, http.StatusUnauthorized, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	if err := h.accounts.Logout(r.Context(), userID); err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// createPaymentResponse reports the settlement outcome of an accepted
// payment attempt. A FAILED settlement is still a successful API call; the
// statusCode field carries the 100/200/400 gateway code, not the HTTP one.
type createPaymentResponse struct {
	StatusCode     int    `json:"statusCode"`
	Message        string `json:"message"`
	TransactionRef string `json:"transactionRef"`
}

func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	var req service.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if !req.Amount.IsPositive() {
		h.writeError(w, http.StatusBadRequest, pkgerrors.ErrInvalidAmount)
		return
	}

	payment, err := h.payments.CreatePayment(r.Context(), req, userID)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrAccountNotFound),
			errors.Is(err, pkgerrors.ErrNotAccountOwner),
			errors.Is(err, pkgerrors.ErrInvalidAmount):
			h.writeError(w, http.StatusBadRequest, err)
		default:
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, createPaymentResponse{
		StatusCode:     payment.Status.Code(),
		Message:        payment.Status.Message(payment.ErrorMessage),
		TransactionRef: payment.TransactionRef,
	})
}

func (h *Handler) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	ref := mux.Vars(r)["ref"]
	summary, err := h.payments.GetStatus(r.Context(), ref, userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrPaymentNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 10)

	list, err := h.payments.ListPayments(r.Context(), userID, page, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) DashboardStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	stats, err := h.payments.DashboardStats(r.Context(), userID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, err)
		} else {
			h.writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, errors.New("user not authenticated"))
		return
	}

	limit := queryInt(r, "limit", 5)
	items, err := h.payments.RecentTransactions(r.Context(), userID, limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.writeJSON(w, http.StatusOK, items)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
