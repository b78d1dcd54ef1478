package models

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/recon"
	"gorm.io/gorm"
)

const poLookupCacheTTL = 5 * time.Minute

func PoLookupCacheKey(poNumber string) string {
	return "recon:po-number:" + poNumber
}

// PurchaseOrderSource adapts the purchase order tables to the engine's
// candidate lookup interface. Exact po-number lookups go through the Redis
// object cache; vendor sweeps always hit the database.
type PurchaseOrderSource struct{}

var _ recon.CandidateSource = (*PurchaseOrderSource)(nil)

func NewPurchaseOrderSource() *PurchaseOrderSource {
	return &PurchaseOrderSource{}
}

func (s *PurchaseOrderSource) LoadPurchaseOrders(ctx context.Context, ids []string) ([]recon.PurchaseOrder, error) {
	purchaseOrders, err := GetPurchaseOrdersByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]recon.PurchaseOrder, 0, len(purchaseOrders))
	for _, po := range purchaseOrders {
		results = append(results, ToReconPurchaseOrder(po))
	}
	return results, nil
}

func (s *PurchaseOrderSource) FindPurchaseOrdersByNumberOrVendor(ctx context.Context, poNumber string, vendorName string) ([]recon.PurchaseOrder, error) {
	results := make([]recon.PurchaseOrder, 0)
	seen := make(map[int]bool)

	if poNumber != "" {
		po, err := s.lookupByNumber(ctx, poNumber)
		if err != nil {
			return nil, err
		}
		if po != nil {
			seen[po.ID] = true
			results = append(results, ToReconPurchaseOrder(po))
		}
	}

	if vendorName != "" {
		purchaseOrders, err := SearchPurchaseOrders(ctx, "", vendorName, config.SearchLimit)
		if err != nil {
			return nil, err
		}
		for _, po := range purchaseOrders {
			if seen[po.ID] {
				continue
			}
			seen[po.ID] = true
			results = append(results, ToReconPurchaseOrder(po))
		}
	}

	return results, nil
}

// lookupByNumber resolves an exact po number, read-through cached. A missing
// po is (nil, nil), not an error.
func (s *PurchaseOrderSource) lookupByNumber(ctx context.Context, poNumber string) (*PurchaseOrder, error) {
	key := PoLookupCacheKey(poNumber)

	if !config.DisablePoLookupCache() {
		var cached PurchaseOrder
		found, err := config.GetRedisObject(key, &cached)
		if err == nil && found {
			return &cached, nil
		}
	}

	po, err := GetPurchaseOrderByNumber(ctx, poNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if !config.DisablePoLookupCache() {
		_ = config.SetRedisObject(key, po, poLookupCacheTTL)
	}
	return po, nil
}

// ToReconPurchaseOrder converts a stored purchase order to the engine's shape.
// Details are emitted in line-number order so candidate payloads are stable
// regardless of row insertion order.
func ToReconPurchaseOrder(po *PurchaseOrder) recon.PurchaseOrder {
	details := make([]PurchaseOrderDetail, len(po.Details))
	copy(details, po.Details)
	sort.Slice(details, func(i, j int) bool {
		return details[i].LineNumber < details[j].LineNumber
	})

	items := make([]recon.PurchaseOrderLineItem, 0, len(details))
	for _, detail := range details {
		items = append(items, recon.PurchaseOrderLineItem{
			LineNumber:      detail.LineNumber,
			Identifier:      detail.Identifier,
			Description:     detail.Description,
			QuantityOrdered: detail.DetailQty,
			UnitPrice:       detail.DetailUnitRate,
			LotNumber:       detail.BatchNumber,
		})
	}

	return recon.PurchaseOrder{
		Id:       strconv.Itoa(po.ID),
		PoNumber: po.PoNumber,
		Vendor:   recon.Party{Name: po.VendorName},
		Items:    items,
	}
}
