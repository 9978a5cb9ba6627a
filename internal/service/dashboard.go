package service

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"crackerpos/backend/internal/domain"
)

const topProductsLimit = 5

// Dashboard returns inventory and sales totals. Snapshots are cached for the
// configured TTL and dropped whenever stock or sales change.
func (s *Service) Dashboard(ctx context.Context) (domain.Dashboard, error) {
	if cached, hit, err := s.dashboard.Get(ctx, dashboardCacheKey); err != nil {
		s.log.Warn(ctx, "dashboard cache read failed: "+err.Error())
	} else if hit {
		return *cached, nil
	}

	now := s.now().UTC()
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Dashboard{}, err
	}
	sales, err := s.repo.ListSales(ctx, time.Time{}, now.Add(time.Minute))
	if err != nil {
		return domain.Dashboard{}, err
	}

	snapshot := buildDashboard(products, sales, s.lowStockThreshold, now)
	if err := s.dashboard.Set(ctx, dashboardCacheKey, &snapshot, s.dashboardTTL); err != nil {
		s.log.Warn(ctx, "dashboard cache write failed: "+err.Error())
	}
	return snapshot, nil
}

func buildDashboard(products []domain.Product, sales []domain.SaleRecord, lowStockThreshold int, now time.Time) domain.Dashboard {
	d := domain.Dashboard{
		TotalProducts:       len(products),
		StockValue:          decimal.Zero,
		LowStockThreshold:   lowStockThreshold,
		LowStock:            []domain.ProductSales{},
		TotalRevenue:        decimal.Zero,
		CategoryPerformance: []domain.CategorySales{},
		TopProducts:         []domain.ProductSales{},
		GeneratedAt:         now,
	}

	soldByCategory := map[string]int{}
	ranked := make([]domain.ProductSales, 0, len(products))
	for _, p := range products {
		d.StockValue = d.StockValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Stock))))
		d.TotalSold += p.SoldQty
		soldByCategory[p.Category] += p.SoldQty

		row := domain.ProductSales{Code: p.Code, Name: p.Name, Category: p.Category, SoldQty: p.SoldQty, Stock: p.Stock, Price: p.Price}
		ranked = append(ranked, row)
		if p.Stock < lowStockThreshold {
			d.LowStock = append(d.LowStock, row)
		}
	}
	for _, r := range sales {
		d.TotalRevenue = d.TotalRevenue.Add(r.LineTotal)
	}

	sort.Slice(d.LowStock, func(i, j int) bool {
		if d.LowStock[i].Stock == d.LowStock[j].Stock {
			return d.LowStock[i].Code < d.LowStock[j].Code
		}
		return d.LowStock[i].Stock < d.LowStock[j].Stock
	})

	for category, sold := range soldByCategory {
		d.CategoryPerformance = append(d.CategoryPerformance, domain.CategorySales{Category: category, SoldQty: sold})
	}
	sort.Slice(d.CategoryPerformance, func(i, j int) bool {
		if d.CategoryPerformance[i].SoldQty == d.CategoryPerformance[j].SoldQty {
			return d.CategoryPerformance[i].Category < d.CategoryPerformance[j].Category
		}
		return d.CategoryPerformance[i].SoldQty > d.CategoryPerformance[j].SoldQty
	})

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].SoldQty == ranked[j].SoldQty {
			return ranked[i].Code < ranked[j].Code
		}
		return ranked[i].SoldQty > ranked[j].SoldQty
	})
	if len(ranked) > topProductsLimit {
		ranked = ranked[:topProductsLimit]
	}
	d.TopProducts = ranked
	return d
}
