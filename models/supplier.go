package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/operations_backend/config"
	"bitbucket.org/mmdatafocus/operations_backend/utils"
)

// Supplier records are managed by the external CRUD layer; the core only needs
// the reference for purchases and the delete protection.
type Supplier struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:200;not null;uniqueIndex" json:"name" binding:"required"`
	TaxId     string    `gorm:"size:20;uniqueIndex" json:"tax_id"`
	Email     string    `gorm:"size:254" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Name  string `json:"name" validate:"required,max=200"`
	TaxId string `json:"tax_id" validate:"max=20"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"max=20"`
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {

	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Supplier](ctx, "name", input.Name, 0); err != nil {
		return nil, err
	}

	supplier := Supplier{
		Name:  input.Name,
		TaxId: input.TaxId,
		Email: input.Email,
		Phone: input.Phone,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&supplier).Error
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func DeleteSupplier(ctx context.Context, id int) (*Supplier, error) {

	result, err := utils.FetchModel[Supplier](ctx, id)
	if err != nil {
		return nil, err
	}

	count, err := utils.ResourceCountWhere[Purchase](ctx, "supplier_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("used by purchase")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Delete(result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	return utils.FetchModel[Supplier](ctx, id)
}

func GetSuppliers(ctx context.Context) ([]*Supplier, error) {

	db := config.GetDB()
	var results []*Supplier
	err := db.WithContext(ctx).Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
