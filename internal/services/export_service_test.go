package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	domain "github.com/craftkart/api/internal/domain"
	"github.com/craftkart/api/internal/repositories"
)

func TestExportServiceRendersExpectedColumns(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	orders := []domain.Order{
		{
			OrderNumber: "CK-20250314-AB12",
			CreatedAt:   time.Date(2025, 3, 14, 18, 45, 0, 0, time.UTC),
			Customer: domain.Customer{
				Name:    "Asha Patel",
				Email:   "asha@example.com",
				Phone:   "9876543210",
				Address: "42 MG Road, Flat 3",
				City:    "Pune",
				State:   "Maharashtra",
				Pincode: "411001",
			},
			Items: []domain.OrderItem{
				{Name: "Brass Diya", Quantity: 2},
				{Name: "Jute Basket", Quantity: 1},
			},
			Subtotal:    64700,
			ShippingFee: 4900,
			Total:       69600,
			Status:      domain.OrderStatusConfirmed,
			AdminNotes:  strPtr("gift wrap, call before delivery"),
		},
	}

	repo := &stubOrderRepository{
		listRecentFunc: func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			if filter.Limit != 1000 {
				t.Fatalf("expected default limit 1000, got %d", filter.Limit)
			}
			return orders, nil
		},
	}

	service, err := NewExportService(ExportServiceDeps{
		Orders: repo,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error constructing export service: %v", err)
	}

	result, err := service.ExportOrders(context.Background(), ExportRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Filename != "orders-20250315-103000.csv" {
		t.Fatalf("unexpected filename %q", result.Filename)
	}
	if result.ContentType != "text/csv" {
		t.Fatalf("unexpected content type %q", result.ContentType)
	}
	if result.RowCount != 1 {
		t.Fatalf("expected 1 row, got %d", result.RowCount)
	}

	records, err := csv.NewReader(bytes.NewReader(result.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header plus one row, got %d records", len(records))
	}

	wantHeader := []string{
		"Order Number", "Date", "Customer Name", "Email", "Phone", "Address",
		"City", "State", "Pincode", "Items", "Subtotal", "Shipping", "Total",
		"Status", "Notes",
	}
	header := records[0]
	if len(header) != len(wantHeader) {
		t.Fatalf("expected %d columns, got %d", len(wantHeader), len(header))
	}
	for i := range wantHeader {
		if header[i] != wantHeader[i] {
			t.Fatalf("column %d: expected %q, got %q", i, wantHeader[i], header[i])
		}
	}

	row := records[1]
	if row[0] != "CK-20250314-AB12" {
		t.Fatalf("unexpected order number %q", row[0])
	}
	if row[1] != "2025-03-14 18:45" {
		t.Fatalf("unexpected date %q", row[1])
	}
	// Embedded commas must survive the round trip intact.
	if row[5] != "42 MG Road, Flat 3" {
		t.Fatalf("unexpected address %q", row[5])
	}
	if row[9] != "Brass Diya x 2; Jute Basket x 1" {
		t.Fatalf("unexpected items column %q", row[9])
	}
	if row[10] != "647.00" || row[11] != "49.00" || row[12] != "696.00" {
		t.Fatalf("unexpected amounts %q %q %q", row[10], row[11], row[12])
	}
	if row[13] != "Confirmed" {
		t.Fatalf("unexpected status %q", row[13])
	}
	if row[14] != "gift wrap, call before delivery" {
		t.Fatalf("unexpected notes %q", row[14])
	}
}

func TestExportServiceEmptyResultStillHasHeader(t *testing.T) {
	repo := &stubOrderRepository{
		listRecentFunc: func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			return nil, nil
		},
	}

	service, err := NewExportService(ExportServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing export service: %v", err)
	}

	result, err := service.ExportOrders(context.Background(), ExportRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RowCount != 0 {
		t.Fatalf("expected 0 rows, got %d", result.RowCount)
	}
	if !strings.HasPrefix(string(result.Data), "Order Number,") {
		t.Fatalf("expected header row, got %q", string(result.Data))
	}
}

func TestExportServicePassesFilterThrough(t *testing.T) {
	after := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	var gotFilter repositories.OrderListFilter
	repo := &stubOrderRepository{
		listRecentFunc: func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			gotFilter = filter
			return nil, nil
		},
	}

	service, err := NewExportService(ExportServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing export service: %v", err)
	}

	if _, err := service.ExportOrders(context.Background(), ExportRequest{
		Status:       []domain.OrderStatus{domain.OrderStatusShipped},
		CreatedAfter: &after,
		Limit:        25,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gotFilter.Status) != 1 || gotFilter.Status[0] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter %+v", gotFilter.Status)
	}
	if gotFilter.CreatedAfter == nil || !gotFilter.CreatedAfter.Equal(after) {
		t.Fatalf("unexpected created-after filter %v", gotFilter.CreatedAfter)
	}
	if gotFilter.Limit != 25 {
		t.Fatalf("unexpected limit %d", gotFilter.Limit)
	}
}

func TestExportServiceUploadWithoutUploaderFails(t *testing.T) {
	repo := &stubOrderRepository{
		listRecentFunc: func(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			return nil, nil
		},
	}

	service, err := NewExportService(ExportServiceDeps{Orders: repo})
	if err != nil {
		t.Fatalf("unexpected error constructing export service: %v", err)
	}

	if _, err := service.ExportOrders(context.Background(), ExportRequest{Upload: true}); err == nil {
		t.Fatalf("expected error when upload requested without uploader")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		paise int64
		want  string
	}{
		{paise: 0, want: "0.00"},
		{paise: 5, want: "0.05"},
		{paise: 100, want: "1.00"},
		{paise: 64700, want: "647.00"},
		{paise: 64709, want: "647.09"},
		{paise: -2500, want: "-25.00"},
	}
	for _, tc := range cases {
		if got := formatAmount(tc.paise); got != tc.want {
			t.Fatalf("formatAmount(%d): expected %q, got %q", tc.paise, tc.want, got)
		}
	}
}
