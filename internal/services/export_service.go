package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/craftkart/api/internal/platform/storage"
	"github.com/craftkart/api/internal/repositories"
)

const (
	exportContentType = "text/csv"
	exportDateLayout  = "2006-01-02 15:04"

	defaultExportLimit = 1000
)

var exportHeader = []string{
	"Order Number", "Date", "Customer Name", "Email", "Phone", "Address",
	"City", "State", "Pincode", "Items", "Subtotal", "Shipping", "Total",
	"Status", "Notes",
}

// ExportServiceDeps bundles collaborators required to construct the export service.
type ExportServiceDeps struct {
	Orders   repositories.OrderRepository
	Uploader *storage.ExportUploader
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type exportService struct {
	orders   repositories.OrderRepository
	uploader *storage.ExportUploader
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewExportService wires dependencies into a concrete ExportService implementation.
func NewExportService(deps ExportServiceDeps) (ExportService, error) {
	if deps.Orders == nil {
		return nil, errors.New("export service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &exportService{
		orders:   deps.Orders,
		uploader: deps.Uploader,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// ExportOrders renders matching orders as CSV, optionally uploading the file
// and returning a signed download link.
func (s *exportService) ExportOrders(ctx context.Context, req ExportRequest) (ExportResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultExportLimit
	}

	orders, err := s.orders.ListRecent(ctx, repositories.OrderListFilter{
		Status:       req.Status,
		CreatedAfter: req.CreatedAfter,
		Limit:        limit,
	})
	if err != nil {
		return ExportResult{}, s.mapRepositoryError(err)
	}

	data, err := renderOrdersCSV(orders)
	if err != nil {
		return ExportResult{}, err
	}

	result := ExportResult{
		Filename:    fmt.Sprintf("orders-%s.csv", s.clock().Format("20060102-150405")),
		ContentType: exportContentType,
		Data:        data,
		RowCount:    len(orders),
	}

	if !req.Upload {
		return result, nil
	}
	if s.uploader == nil {
		return ExportResult{}, errors.New("export service: upload requested but no uploader configured")
	}

	object, err := s.uploader.Upload(ctx, result.Filename, exportContentType, data)
	if err != nil {
		return ExportResult{}, err
	}
	result.ObjectName = object

	url, expires, err := s.uploader.SignedDownloadURL(ctx, object)
	if err != nil {
		// The object landed; surface it without a link rather than failing.
		s.logger(ctx, "export.signed_url_error", map[string]any{
			"object": object,
			"error":  err.Error(),
		})
		return result, nil
	}
	result.DownloadURL = url
	result.URLExpires = expires

	return result, nil
}

func renderOrdersCSV(orders []Order) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(exportHeader); err != nil {
		return nil, fmt.Errorf("export: write header: %w", err)
	}
	for _, order := range orders {
		if err := writer.Write(exportRow(order)); err != nil {
			return nil, fmt.Errorf("export: write order %s: %w", order.ID, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return buf.Bytes(), nil
}

func exportRow(order Order) []string {
	return []string{
		order.OrderNumber,
		order.CreatedAt.UTC().Format(exportDateLayout),
		order.Customer.Name,
		order.Customer.Email,
		order.Customer.Phone,
		order.Customer.Address,
		order.Customer.City,
		order.Customer.State,
		order.Customer.Pincode,
		renderItems(order.Items),
		formatAmount(order.Subtotal),
		formatAmount(order.ShippingFee),
		formatAmount(order.Total),
		string(order.Status),
		derefString(order.AdminNotes),
	}
}

// renderItems flattens order lines into "Name x Qty" pairs separated by
// semicolons so the column survives CSV round trips.
func renderItems(items []OrderItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x %d", item.Name, item.Quantity))
	}
	return strings.Join(parts, "; ")
}

// formatAmount renders a paise amount as rupees with two decimal places.
func formatAmount(paise int64) string {
	sign := ""
	if paise < 0 {
		sign = "-"
		paise = -paise
	}
	return fmt.Sprintf("%s%d.%02d", sign, paise/100, paise%100)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *exportService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsUnavailable() {
		return fmt.Errorf("export: repository unavailable: %w", err)
	}
	return err
}
