package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/utils"
)

// Vendor is the supplier master. Purchase orders denormalize the vendor name
// at creation time so candidate lookups never join this table.
type Vendor struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:100" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewVendor struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type VendorsEdge Edge[Vendor]
type VendorsConnection struct {
	PageInfo *PageInfo      `json:"pageInfo"`
	Edges    []*VendorsEdge `json:"edges"`
}

// node
func (v Vendor) GetId() int {
	return v.ID
}

// returns decoded cursor string
func (v Vendor) GetCursor() string {
	return v.CreatedAt.String()
}

// validate input for both create & update. (id = 0 for create)
func (input *NewVendor) validate(ctx context.Context, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Vendor](ctx, id); err != nil {
			return err
		}
	}
	// validate unique name
	if err := utils.ValidateUnique[Vendor](ctx, "name", input.Name, id); err != nil {
		return err
	}
	// validate email
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email address")
	}
	// validate phone
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return err
		}
	}
	return nil
}

func CreateVendor(ctx context.Context, input *NewVendor) (*Vendor, error) {

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	vendor := Vendor{
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Address:  input.Address,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&vendor).Error
	if err != nil {
		return nil, err
	}

	return &vendor, nil
}

func UpdateVendor(ctx context.Context, id int, input *NewVendor) (*Vendor, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	vendor, err := utils.FetchSingleModel[Vendor](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(vendor).Updates(map[string]interface{}{
		"name":    input.Name,
		"email":   input.Email,
		"phone":   input.Phone,
		"address": input.Address,
	}).Error
	if err != nil {
		return nil, err
	}

	return vendor, nil
}

func GetVendor(ctx context.Context, id int) (*Vendor, error) {
	return utils.FetchSingleModel[Vendor](ctx, id)
}

func PaginateVendor(ctx context.Context, limit *int, after *string, name *string, isActive *bool) (*VendorsConnection, error) {

	if limit == nil || *limit < 1 {
		return nil, errors.New("limit is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&Vendor{})
	if name != nil && *name != "" {
		dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if isActive != nil {
		dbCtx.Where("is_active = ?", *isActive)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[Vendor](dbCtx, *limit, after, "created_at", "<")
	if err != nil {
		return nil, err
	}
	var vendorsConnection VendorsConnection
	vendorsConnection.PageInfo = pageInfo
	for _, edge := range edges {
		vendorEdge := VendorsEdge(edge)
		vendorsConnection.Edges = append(vendorsConnection.Edges, &vendorEdge)
	}

	return &vendorsConnection, err
}
