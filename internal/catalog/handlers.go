package catalog

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/sarfarazstark/audiophile/internal/common"
	"github.com/sarfarazstark/audiophile/internal/payu"
	"github.com/sarfarazstark/audiophile/internal/store"
)

// Store is the read surface for the product catalog.
type Store interface {
	ListProducts(ctx context.Context) ([]store.Product, error)
}

// Handlers exposes the product catalog.
type Handlers struct {
	Store  Store
	Logger zerolog.Logger
}

type productView struct {
	ID       string `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Price    string `json:"price"`
	IsNew    bool   `json:"isNew"`
}

// List handles GET /api/v1/products.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.Store.ListProducts(r.Context())
	if err != nil {
		h.Logger.Error().Err(err).Msg("catalog listing failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal server error", nil)
		return
	}

	views := make([]productView, 0, len(products))
	for _, p := range products {
		views = append(views, productView{
			ID:       p.ID.String(),
			Slug:     p.Slug,
			Name:     p.Name,
			Category: p.Category,
			Price:    payu.FormatAmount(p.Price),
			IsNew:    p.IsNew,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"products": views})
}
