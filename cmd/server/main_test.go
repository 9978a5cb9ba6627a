package main

import (
	"context"
	"testing"

	"crackerpos/backend/internal/config"
	"crackerpos/backend/internal/logger"
	"crackerpos/backend/internal/receipt"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(&config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(&config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestReceiptSinksFollowConfig(t *testing.T) {
	if sinks := receiptSinks(&config.Config{}); len(sinks) != 0 {
		t.Fatalf("expected no sinks, got %d", len(sinks))
	}

	sinks := receiptSinks(&config.Config{ReceiptDir: t.TempDir(), ReceiptPrinterAddr: "127.0.0.1:9100"})
	if len(sinks) != 2 {
		t.Fatalf("expected file and printer sinks, got %d", len(sinks))
	}
	if _, ok := sinks[1].(*receipt.PrinterSink); !ok {
		t.Fatalf("expected printer sink second, got %T", sinks[1])
	}
}

func TestOpenStoreMemoryAndSQLite(t *testing.T) {
	ctx := context.Background()

	repo, ready, closeFn, err := openStore(ctx, &config.Config{StoreDriver: config.StoreMemory}, logger.Nop())
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if ready != nil || closeFn != nil {
		t.Fatalf("memory store needs no health check or close")
	}
	if products, err := repo.ListProducts(ctx); err != nil || len(products) == 0 {
		t.Fatalf("expected seeded memory catalog, got %d (%v)", len(products), err)
	}

	repo, ready, closeFn, err = openStore(ctx, &config.Config{StoreDriver: config.StoreSQLite, SQLitePath: "file:main_test?mode=memory&cache=shared"}, logger.Nop())
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	defer func() { _ = closeFn() }()
	if err := ready(ctx); err != nil {
		t.Fatalf("sqlite ping: %v", err)
	}
	if products, err := repo.ListProducts(ctx); err != nil || len(products) == 0 {
		t.Fatalf("expected seeded sqlite catalog, got %d (%v)", len(products), err)
	}
}
