package firestore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	domain "github.com/craftkart/api/internal/domain"
	pfirestore "github.com/craftkart/api/internal/platform/firestore"
	"github.com/craftkart/api/internal/repositories"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const productCollection = "products"

// ProductRepository reads catalog products and applies stock movements.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}

	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// FindByID loads a single product regardless of publication state.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(productID) == "" {
		return domain.Product{}, errors.New("product id is required")
	}

	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc.ID, doc.Data), nil
}

// FindPublishedByIDs loads published products keyed by ID. Products that are
// absent or unpublished are silently omitted; callers treat a missing key as
// an invalid order line.
func (r *ProductRepository) FindPublishedByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}

	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, client.Collection(productCollection).Doc(id))
	}

	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.findByIds", err)
	}

	products := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, pfirestore.WrapError("products.findByIds", err)
		}
		if !doc.Published {
			continue
		}
		products[snap.Ref.ID] = toDomainProduct(snap.Ref.ID, doc)
	}
	return products, nil
}

// DecrementStock subtracts the requested quantities inside one transaction so
// concurrent checkouts read consistent stock levels. Each product is clamped
// at zero rather than rejected; missing products are skipped and reported.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMovementResult{}, errors.New("product repository not initialised")
	}

	lines = mergeLines(lines)
	if len(lines) == 0 {
		return repositories.StockMovementResult{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.StockMovementResult{}, err
	}

	var result repositories.StockMovementResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.StockMovementResult{}
		now := time.Now().UTC()

		type pending struct {
			ref      *firestore.DocumentRef
			newStock int64
		}
		writes := make([]pending, 0, len(lines))

		for _, line := range lines {
			ref := client.Collection(productCollection).Doc(line.ProductID)
			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				result.Missing = append(result.Missing, line.ProductID)
				continue
			}
			if err != nil {
				return err
			}

			var doc productDocument
			if err := snap.DataTo(&doc); err != nil {
				return err
			}

			newStock := doc.Stock - int64(line.Quantity)
			if newStock < 0 {
				newStock = 0
			}
			writes = append(writes, pending{ref: ref, newStock: newStock})
			result.Adjusted = append(result.Adjusted, line.ProductID)
		}

		for _, write := range writes {
			if err := tx.Update(write.ref, []firestore.Update{
				{Path: "stock", Value: write.newStock},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return repositories.StockMovementResult{}, err
	}
	return result, nil
}

// RestoreStock adds the quantities back using atomic increments. Products
// deleted since the order was placed are skipped and reported.
func (r *ProductRepository) RestoreStock(ctx context.Context, lines []domain.StockLine) (repositories.StockMovementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockMovementResult{}, errors.New("product repository not initialised")
	}

	lines = mergeLines(lines)
	if len(lines) == 0 {
		return repositories.StockMovementResult{}, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.StockMovementResult{}, err
	}

	var result repositories.StockMovementResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.StockMovementResult{}
		now := time.Now().UTC()

		refs := make([]*firestore.DocumentRef, 0, len(lines))
		for _, line := range lines {
			refs = append(refs, client.Collection(productCollection).Doc(line.ProductID))
		}
		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}

		for i, snap := range snaps {
			if snap == nil || !snap.Exists() {
				result.Missing = append(result.Missing, lines[i].ProductID)
				continue
			}
			if err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "stock", Value: firestore.Increment(int64(lines[i].Quantity))},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
			result.Adjusted = append(result.Adjusted, lines[i].ProductID)
		}
		return nil
	})
	if err != nil {
		return repositories.StockMovementResult{}, err
	}
	return result, nil
}

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	ImageURL  string    `firestore:"imageUrl,omitempty"`
	Stock     int64     `firestore:"stock"`
	Published bool      `firestore:"published"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func toDomainProduct(id string, doc productDocument) domain.Product {
	return domain.Product{
		ID:        id,
		Name:      doc.Name,
		Price:     doc.Price,
		ImageURL:  doc.ImageURL,
		Stock:     doc.Stock,
		Published: doc.Published,
		UpdatedAt: doc.UpdatedAt,
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// mergeLines collapses duplicate product IDs and drops empty or non-positive
// quantities so transactions never touch the same document twice.
func mergeLines(lines []domain.StockLine) []domain.StockLine {
	merged := make(map[string]int, len(lines))
	for _, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" || line.Quantity <= 0 {
			continue
		}
		merged[id] += line.Quantity
	}
	if len(merged) == 0 {
		return nil
	}
	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]domain.StockLine, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.StockLine{ProductID: id, Quantity: merged[id]})
	}
	return out
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
