package models

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
	"github.com/shopspring/decimal"
)

type PurchaseOrder struct {
	ID         int    `gorm:"primary_key" json:"id"`
	PoNumber   string `gorm:"size:50;uniqueIndex;not null" json:"po_number" binding:"required"`
	VendorId   int    `gorm:"index;not null" json:"vendor_id" binding:"required"`
	// denormalized at creation so candidate lookups never join vendors
	VendorName       string                `gorm:"size:100;index;not null" json:"vendor_name"`
	CurrentStatus    PurchaseOrderStatus   `gorm:"type:enum('Draft','Confirmed','Partially Billed','Closed','Cancelled');not null;default:'Confirmed'" json:"current_status"`
	OrderDate        *MyDateString         `gorm:"type:date" json:"order_date"`
	OrderTotalAmount decimal.Decimal       `gorm:"type:decimal(20,4);default:0" json:"order_total_amount"`
	Details          []PurchaseOrderDetail `json:"details"`
	CreatedAt        time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	LineNumber      int             `gorm:"not null" json:"line_number"`
	Identifier      string          `gorm:"size:50;index" json:"identifier"`
	Description     string          `gorm:"size:255" json:"description"`
	DetailQty       int             `gorm:"not null;default:0" json:"detail_qty"`
	DetailUnitRate  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_unit_rate"`
	BatchNumber     string          `gorm:"size:100" json:"batch_number"`
	ExpiryDate      *MyDateString   `gorm:"type:date" json:"expiry_date"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchaseOrder struct {
	PoNumber      string                   `json:"po_number" binding:"required"`
	VendorId      int                      `json:"vendor_id" binding:"required"`
	CurrentStatus *PurchaseOrderStatus     `json:"current_status"`
	OrderDate     *MyDateString            `json:"order_date"`
	Details       []NewPurchaseOrderDetail `json:"details" binding:"required,dive"`
}

type NewPurchaseOrderDetail struct {
	LineNumber     int             `json:"line_number" binding:"required"`
	Identifier     string          `json:"identifier"`
	Description    string          `json:"description"`
	DetailQty      int             `json:"detail_qty" binding:"required"`
	DetailUnitRate decimal.Decimal `json:"detail_unit_rate"`
	BatchNumber    string          `json:"batch_number"`
	ExpiryDate     *MyDateString   `json:"expiry_date"`
}

type PurchaseOrdersEdge Edge[PurchaseOrder]
type PurchaseOrdersConnection struct {
	PageInfo *PageInfo             `json:"pageInfo"`
	Edges    []*PurchaseOrdersEdge `json:"edges"`
}

// node
func (p PurchaseOrder) GetId() int {
	return p.ID
}

// returns decoded cursor string
func (p PurchaseOrder) GetCursor() string {
	return p.CreatedAt.String()
}

// validate input for both create & update. (id = 0 for create)
func (input *NewPurchaseOrder) validate(ctx context.Context, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[PurchaseOrder](ctx, id); err != nil {
			return err
		}
	}
	// validate unique po number
	if err := utils.ValidateUnique[PurchaseOrder](ctx, "po_number", input.PoNumber, id); err != nil {
		return err
	}
	// validate vendor
	if err := utils.ValidateResourceId[Vendor](ctx, input.VendorId); err != nil {
		return errors.New("vendor not found")
	}
	if len(input.Details) == 0 {
		return errors.New("purchase order requires at least one line")
	}
	seen := make(map[int]bool, len(input.Details))
	for _, item := range input.Details {
		if item.LineNumber < 1 {
			return fmt.Errorf("line number must be positive, got %d", item.LineNumber)
		}
		if seen[item.LineNumber] {
			return fmt.Errorf("duplicate line number %d", item.LineNumber)
		}
		seen[item.LineNumber] = true
		if item.DetailQty < 1 {
			return fmt.Errorf("line %d: quantity must be positive", item.LineNumber)
		}
		if item.DetailUnitRate.IsNegative() {
			return fmt.Errorf("line %d: unit rate must not be negative", item.LineNumber)
		}
	}
	return nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {
	db := config.GetDB()

	// validate PurchaseOrder
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	vendor, err := utils.FetchSingleModel[Vendor](ctx, input.VendorId)
	if err != nil {
		return nil, errors.New("vendor not found")
	}

	var purchaseOrderItems []PurchaseOrderDetail
	var orderTotalAmount decimal.Decimal

	for _, item := range input.Details {
		purchaseOrderItem := PurchaseOrderDetail{
			LineNumber:     item.LineNumber,
			Identifier:     item.Identifier,
			Description:    item.Description,
			DetailQty:      item.DetailQty,
			DetailUnitRate: item.DetailUnitRate,
			BatchNumber:    item.BatchNumber,
			ExpiryDate:     item.ExpiryDate,
		}

		lineAmount := item.DetailUnitRate.Mul(decimal.NewFromInt(int64(item.DetailQty)))
		orderTotalAmount = orderTotalAmount.Add(lineAmount)

		purchaseOrderItems = append(purchaseOrderItems, purchaseOrderItem)
	}

	currentStatus := PurchaseOrderStatusConfirmed
	if input.CurrentStatus != nil {
		currentStatus = *input.CurrentStatus
	}

	// store purchaseOrder
	purchaseOrder := PurchaseOrder{
		PoNumber:         input.PoNumber,
		VendorId:         vendor.ID,
		VendorName:       vendor.Name,
		CurrentStatus:    currentStatus,
		OrderDate:        input.OrderDate.SetDefaultNowIfNil(),
		OrderTotalAmount: orderTotalAmount,
		Details:          purchaseOrderItems,
	}

	tx := db.Begin()

	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks
	// (leaked transactions are a common cause of MySQL 1205 lock wait timeouts).
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	err = tx.WithContext(ctx).Create(&purchaseOrder).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.WithContext(ctx).Preload("Details").First(&purchaseOrder, purchaseOrder.ID).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	// drop any stale cached lookup for this po number
	_ = config.RemoveRedisKey(PoLookupCacheKey(purchaseOrder.PoNumber))

	return &purchaseOrder, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	return utils.FetchSingleModel[PurchaseOrder](ctx, id, "Details")
}

func GetPurchaseOrderByNumber(ctx context.Context, poNumber string) (*PurchaseOrder, error) {
	db := config.GetDB()
	var result PurchaseOrder
	err := db.WithContext(ctx).Preload("Details").
		Where("po_number = ?", poNumber).
		First(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPurchaseOrdersByIds resolves ids in the caller's order, skipping ids that
// do not exist or do not parse as record ids.
func GetPurchaseOrdersByIds(ctx context.Context, ids []string) ([]*PurchaseOrder, error) {
	if len(ids) == 0 {
		return []*PurchaseOrder{}, nil
	}

	recordIds := make([]int, 0, len(ids))
	for _, id := range ids {
		recordId, err := strconv.Atoi(id)
		if err != nil || recordId < 1 {
			continue
		}
		recordIds = append(recordIds, recordId)
	}
	recordIds = utils.UniqueSlice(recordIds)
	if len(recordIds) == 0 {
		return []*PurchaseOrder{}, nil
	}

	db := config.GetDB()
	var fetched []*PurchaseOrder
	err := db.WithContext(ctx).Preload("Details").
		Where("id IN ?", recordIds).
		Find(&fetched).Error
	if err != nil {
		return nil, err
	}

	byId := make(map[int]*PurchaseOrder, len(fetched))
	for _, po := range fetched {
		byId[po.ID] = po
	}

	results := make([]*PurchaseOrder, 0, len(recordIds))
	for _, recordId := range recordIds {
		if po, ok := byId[recordId]; ok {
			results = append(results, po)
		}
	}
	return results, nil
}

// SearchPurchaseOrders is the recall query behind candidate selection: exact po
// number hits plus vendor-name sweeps. Matching the first vendor token keeps
// recall wide ("McKesson Pharma" vs "McKesson Pharmaceutical"); precision is the
// ranking layer's job. Vendor sweeps skip closed and cancelled orders; an exact
// po number still resolves whatever its status.
func SearchPurchaseOrders(ctx context.Context, poNumber string, vendorName string, limit int) ([]*PurchaseOrder, error) {
	if poNumber == "" && vendorName == "" {
		return []*PurchaseOrder{}, nil
	}
	if limit < 1 {
		limit = config.SearchLimit
	}

	closedStatuses := []PurchaseOrderStatus{PurchaseOrderStatusClosed, PurchaseOrderStatusCancelled}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Preload("Details")

	switch {
	case poNumber != "" && vendorName != "":
		dbCtx = dbCtx.Where("po_number = ? OR (vendor_name LIKE ? AND current_status NOT IN ?)",
			poNumber, "%"+firstVendorToken(vendorName)+"%", closedStatuses)
	case poNumber != "":
		dbCtx = dbCtx.Where("po_number = ?", poNumber)
	default:
		dbCtx = dbCtx.Where("vendor_name LIKE ? AND current_status NOT IN ?",
			"%"+firstVendorToken(vendorName)+"%", closedStatuses)
	}

	var results []*PurchaseOrder
	err := dbCtx.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func firstVendorToken(vendorName string) string {
	start := -1
	for i, r := range vendorName {
		isWord := r == '-' || r == '\'' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
		if isWord && start < 0 {
			start = i
		}
		if !isWord && start >= 0 {
			return vendorName[start:i]
		}
	}
	if start >= 0 {
		return vendorName[start:]
	}
	return vendorName
}

func UpdateStatusPurchaseOrder(ctx context.Context, id int, status PurchaseOrderStatus) (*PurchaseOrder, error) {

	purchaseOrder, err := utils.FetchSingleModel[PurchaseOrder](ctx, id, "Details")
	if err != nil {
		return nil, err
	}
	if purchaseOrder.CurrentStatus == PurchaseOrderStatusCancelled {
		return nil, errors.New("cannot update status of cancelled purchase order")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(purchaseOrder).
		Update("CurrentStatus", status).Error
	if err != nil {
		return nil, err
	}
	purchaseOrder.CurrentStatus = status

	_ = config.RemoveRedisKey(PoLookupCacheKey(purchaseOrder.PoNumber))

	return purchaseOrder, nil
}

func PaginatePurchaseOrder(
	ctx context.Context, limit *int, after *string,

	poNumber *string,
	vendorName *string,
	currentStatus *PurchaseOrderStatus,

	startOrderDate *MyDateString,
	endOrderDate *MyDateString,
) (*PurchaseOrdersConnection, error) {

	if limit == nil || *limit < 1 {
		return nil, errors.New("limit is required")
	}

	if err := startOrderDate.StartOfDayUTCTime(""); err != nil {
		return nil, err
	}
	if err := endOrderDate.EndOfDayUTCTime(""); err != nil {
		return nil, err
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&PurchaseOrder{}).Preload("Details")
	if poNumber != nil && *poNumber != "" {
		dbCtx.Where("po_number LIKE ?", "%"+*poNumber+"%")
	}
	if vendorName != nil && *vendorName != "" {
		dbCtx.Where("vendor_name LIKE ?", "%"+*vendorName+"%")
	}
	if currentStatus != nil {
		dbCtx.Where("current_status = ?", *currentStatus)
	}
	if startOrderDate != nil && endOrderDate != nil {
		dbCtx.Where("order_date BETWEEN ? AND ?", startOrderDate, endOrderDate)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[PurchaseOrder](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var purchaseOrdersConnection PurchaseOrdersConnection
	purchaseOrdersConnection.PageInfo = pageInfo
	for _, edge := range edges {
		purchaseOrderEdge := PurchaseOrdersEdge(edge)
		purchaseOrdersConnection.Edges = append(purchaseOrdersConnection.Edges, &purchaseOrderEdge)
	}

	return &purchaseOrdersConnection, err
}
