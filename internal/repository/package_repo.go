package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) WithTx(tx *gorm.DB) *PackageRepository {
	return &PackageRepository{db: tx}
}

func (r *PackageRepository) Create(pkg *model.Package) error {
	return r.db.Create(pkg).Error
}

func (r *PackageRepository) GetByID(id int64) (*model.Package, error) {
	var pkg model.Package
	err := r.db.Where("id = ?", id).First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *PackageRepository) GetByPlatformProductID(productID string) (*model.Package, error) {
	var pkg model.Package
	err := r.db.Where("platform_product_id = ?", productID).First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetTrial returns the trial package.
func (r *PackageRepository) GetTrial() (*model.Package, error) {
	var pkg model.Package
	err := r.db.Where("is_trial = ?", true).Order("id ASC").First(&pkg).Error
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *PackageRepository) ListPublic() ([]model.Package, error) {
	var pkgs []model.Package
	err := r.db.Where("is_public = ?", true).Order("price_amount ASC, id ASC").Find(&pkgs).Error
	return pkgs, err
}
