package services

import (
	"context"
	"errors"
	"time"

	"github.com/craftkart/api/internal/repositories"
)

// InventoryServiceDeps bundles collaborators required to construct the inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Decrement subtracts stock for the given lines. Missing products are skipped;
// remaining stock never goes below zero.
func (s *inventoryService) Decrement(ctx context.Context, lines []StockLine) (repositories.StockMovementResult, error) {
	if len(lines) == 0 {
		return repositories.StockMovementResult{}, nil
	}

	result, err := s.products.DecrementStock(ctx, lines)
	if err != nil {
		s.logger(ctx, "inventory.decrement.error", map[string]any{
			"lines": len(lines),
			"error": err.Error(),
		})
		return repositories.StockMovementResult{}, err
	}

	if len(result.Missing) > 0 {
		s.logger(ctx, "inventory.decrement.skipped_missing", map[string]any{
			"missing": result.Missing,
		})
	}
	return result, nil
}

// Restore adds stock back for the given lines. Missing products are skipped.
func (s *inventoryService) Restore(ctx context.Context, lines []StockLine) (repositories.StockMovementResult, error) {
	if len(lines) == 0 {
		return repositories.StockMovementResult{}, nil
	}

	result, err := s.products.RestoreStock(ctx, lines)
	if err != nil {
		s.logger(ctx, "inventory.restore.error", map[string]any{
			"lines": len(lines),
			"error": err.Error(),
		})
		return repositories.StockMovementResult{}, err
	}

	if len(result.Missing) > 0 {
		s.logger(ctx, "inventory.restore.skipped_missing", map[string]any{
			"missing": result.Missing,
		})
	}
	return result, nil
}
