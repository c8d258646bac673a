// Package httpapi exposes the application services over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/R3E-Network/asset_layer/internal/app"
	"github.com/R3E-Network/asset_layer/internal/app/domain/asset"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *AuditLog
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	return NewHandlerWithAudit(application, nil)
}

// NewHandlerWithAudit returns the REST mux with request auditing enabled.
func NewHandlerWithAudit(application *app.Application, audit *AuditLog) http.Handler {
	h := &handler{app: application, audit: audit}
	mux := http.NewServeMux()
	mux.HandleFunc("/collections", h.collections)
	mux.HandleFunc("/collections/", h.collectionResources)
	mux.HandleFunc("/balances", h.balances)
	mux.HandleFunc("/events", h.events)
	mux.HandleFunc("/audit", h.auditEntries)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if audit != nil {
		return audit.middleware(mux)
	}
	return mux
}

func (h *handler) collections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Name      string `json:"name"`
			Symbol    string `json:"symbol"`
			MaxSupply uint64 `json:"max_supply"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		col, err := h.app.Ledger.CreateCollection(r.Context(), principalFrom(r), payload.Name, payload.Symbol, payload.MaxSupply)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, col)

	case http.MethodGet:
		cols, err := h.app.Ledger.Collections(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, cols)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) collectionResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/collections"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	collectionID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		col, err := h.app.Ledger.Collection(r.Context(), collectionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, col)
		return
	}

	switch parts[1] {
	case "roles":
		h.collectionRoles(w, r, collectionID, parts[2:])
	case "mint":
		h.collectionMint(w, r, collectionID)
	case "mint-batch":
		h.collectionMintBatch(w, r, collectionID)
	case "burn":
		h.collectionBurn(w, r, collectionID)
	case "burn-batch":
		h.collectionBurnBatch(w, r, collectionID)
	case "transfer":
		h.collectionTransfer(w, r, collectionID)
	case "transfer-batch":
		h.collectionTransferBatch(w, r, collectionID)
	case "operators":
		h.collectionOperators(w, r, collectionID)
	case "items":
		h.collectionItems(w, r, collectionID, parts[2:])
	case "royalty":
		h.collectionRoyalty(w, r, collectionID)
	case "marketplaces":
		h.collectionMarketplaces(w, r, collectionID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) collectionRoles(w http.ResponseWriter, r *http.Request, collectionID string, rest []string) {
	switch r.Method {
	case http.MethodGet:
		// GET /collections/{id}/roles/{role}/{principal} answers membership.
		if len(rest) == 2 {
			ok, err := h.app.Registry.Has(r.Context(), collectionID, rest[0], rest[1])
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]bool{"granted": ok})
			return
		}
		role := r.URL.Query().Get("role")
		if role == "" {
			writeError(w, http.StatusBadRequest, errors.New("role query parameter is required"))
			return
		}
		members, err := h.app.Registry.Members(r.Context(), collectionID, role)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, members)

	case http.MethodPost:
		var payload struct {
			Role      string `json:"role"`
			Principal string `json:"principal"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Registry.Grant(r.Context(), principalFrom(r), collectionID, payload.Role, payload.Principal); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		// DELETE /collections/{id}/roles/{role}/{principal}
		if len(rest) != 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := h.app.Registry.Revoke(r.Context(), principalFrom(r), collectionID, rest[0], rest[1]); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) collectionMint(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		To string `json:"to"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	item, err := h.app.Ledger.Mint(r.Context(), principalFrom(r), collectionID, payload.To)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *handler) collectionMintBatch(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		To    string `json:"to"`
		Count int    `json:"count"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	first, last, minted, err := h.app.Ledger.MintBatch(r.Context(), principalFrom(r), collectionID, payload.To, payload.Count)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"first_id": first,
		"last_id":  last,
		"minted":   minted,
	})
}

func (h *handler) collectionBurn(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ItemID uint64 `json:"item_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Ledger.Burn(r.Context(), principalFrom(r), collectionID, payload.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) collectionBurnBatch(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		ItemIDs []uint64 `json:"item_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Ledger.BurnBatch(r.Context(), principalFrom(r), collectionID, payload.ItemIDs); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) collectionTransfer(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		From   string `json:"from"`
		To     string `json:"to"`
		ItemID uint64 `json:"item_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Ledger.Transfer(r.Context(), principalFrom(r), collectionID, payload.From, payload.To, payload.ItemID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) collectionTransferBatch(w http.ResponseWriter, r *http.Request, collectionID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		From    string   `json:"from"`
		To      string   `json:"to"`
		ItemIDs []uint64 `json:"item_ids"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Ledger.TransferBatch(r.Context(), principalFrom(r), collectionID, payload.From, payload.To, payload.ItemIDs); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) collectionOperators(w http.ResponseWriter, r *http.Request, collectionID string) {
	switch r.Method {
	case http.MethodPost:
		var payload struct {
			Operator string `json:"operator"`
			Approved bool   `json:"approved"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Ledger.SetOperator(r.Context(), principalFrom(r), collectionID, payload.Operator, payload.Approved); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		holder := r.URL.Query().Get("holder")
		operator := r.URL.Query().Get("operator")
		if holder == "" || operator == "" {
			writeError(w, http.StatusBadRequest, errors.New("holder and operator query parameters are required"))
			return
		}
		approved, err := h.app.Ledger.IsOperator(r.Context(), collectionID, holder, operator)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"approved": approved})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) collectionItems(w http.ResponseWriter, r *http.Request, collectionID string, rest []string) {
	if len(rest) == 0 || rest[0] == "" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		holder := r.URL.Query().Get("holder")
		if holder == "" {
			writeError(w, http.StatusBadRequest, errors.New("holder query parameter is required"))
			return
		}
		items, err := h.app.Ledger.ItemsByHolder(r.Context(), collectionID, holder)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
		return
	}

	itemID, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("item id must be a non-negative integer"))
		return
	}

	if len(rest) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		item, err := h.app.Ledger.Item(r.Context(), collectionID, itemID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}

	switch rest[1] {
	case "price":
		h.itemPrice(w, r, collectionID, itemID)
	case "purchase":
		h.itemPurchase(w, r, collectionID, itemID)
	case "sale":
		h.itemSale(w, r, collectionID, itemID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) itemPrice(w http.ResponseWriter, r *http.Request, collectionID string, itemID uint64) {
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var payload struct {
			Price uint64 `json:"price"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Market.SetPrice(r.Context(), principalFrom(r), collectionID, itemID, payload.Price); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		price, err := h.app.Market.Price(r.Context(), collectionID, itemID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]uint64{"price": price})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) itemPurchase(w http.ResponseWriter, r *http.Request, collectionID string, itemID uint64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Offered uint64 `json:"offered"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Market.Purchase(r.Context(), principalFrom(r), collectionID, itemID, payload.Offered); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) itemSale(w http.ResponseWriter, r *http.Request, collectionID string, itemID uint64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rec, err := h.app.Market.Sale(r.Context(), collectionID, itemID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) collectionRoyalty(w http.ResponseWriter, r *http.Request, collectionID string) {
	switch r.Method {
	case http.MethodGet:
		recipient, bps, err := h.app.Settlement.Royalty(r.Context(), collectionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipient": recipient, "bps": bps})

	case http.MethodPut, http.MethodPost:
		var payload struct {
			Recipient string `json:"recipient"`
			Bps       uint64 `json:"bps"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Settlement.SetRoyalty(r.Context(), principalFrom(r), collectionID, payload.Recipient, payload.Bps); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) collectionMarketplaces(w http.ResponseWriter, r *http.Request, collectionID string) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.app.Market.Marketplaces(r.Context(), collectionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)

	case http.MethodPut, http.MethodPost:
		var payload struct {
			Marketplaces []string `json:"marketplaces"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.app.Market.SetMarketplaces(r.Context(), principalFrom(r), collectionID, payload.Marketplaces); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := h.app.Market.ClearMarketplaces(r.Context(), principalFrom(r), collectionID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) balances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.app.Bank == nil {
		writeError(w, http.StatusNotImplemented, errors.New("balance book not configured"))
		return
	}
	if principal := r.URL.Query().Get("principal"); principal != "" {
		writeJSON(w, http.StatusOK, map[string]uint64{principal: h.app.Bank.Balance(principal)})
		return
	}
	writeJSON(w, http.StatusOK, h.app.Bank.Balances())
}

func (h *handler) events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	if collectionID := r.URL.Query().Get("collection"); collectionID != "" {
		writeJSON(w, http.StatusOK, h.app.Events.RecentByCollection(collectionID, limit))
		return
	}
	writeJSON(w, http.StatusOK, h.app.Events.Recent(limit))
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []auditEntry{})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// writeServiceError translates domain sentinels into HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, asset.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, asset.ErrUnauthorized), errors.Is(err, asset.ErrTransferNotAuthorized):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, asset.ErrInvalidState), errors.Is(err, asset.ErrCapacityExceeded), errors.Is(err, asset.ErrReentrancyRejected):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, asset.ErrInsufficientOffer), errors.Is(err, asset.ErrDisbursementFailed):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, asset.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
