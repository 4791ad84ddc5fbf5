package catalog

import (
	"time"
)

// FileAsset is the registry entry for an object stored in the download
// bucket. ObjectKey is the key inside the configured bucket.
type FileAsset struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	ObjectKey   string    `gorm:"column:object_key;uniqueIndex;not null" json:"object_key"`
	Filename    string    `gorm:"column:filename;not null" json:"filename"`
	ContentType string    `gorm:"column:content_type" json:"content_type"`
	Size        int64     `gorm:"column:size" json:"size"`
	Checksum    string    `gorm:"column:checksum" json:"checksum"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (FileAsset) TableName() string { return "file_assets" }

type Product struct {
	ID                 string    `gorm:"column:id;primaryKey" json:"id"`
	Slug               string    `gorm:"column:slug;uniqueIndex;not null" json:"slug"`
	Title              string    `gorm:"column:title;not null" json:"title"`
	Description        string    `gorm:"column:description" json:"description"`
	Price              int64     `gorm:"column:price;not null" json:"price"`
	CurrencyCode       string    `gorm:"column:currency_code;default:'EUR'" json:"currency_code"`
	IsDigital          bool      `gorm:"column:is_digital;index" json:"is_digital"`
	DownloadLimit      int       `gorm:"column:download_limit" json:"download_limit"`
	DownloadExpiryDays int       `gorm:"column:download_expiry_days" json:"download_expiry_days"`
	FileID             *string   `gorm:"column:file_id" json:"file_id,omitempty"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Product) TableName() string { return "products" }

type Variant struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	ProductID string    `gorm:"column:product_id;index;not null" json:"product_id"`
	SKU       string    `gorm:"column:sku;uniqueIndex" json:"sku"`
	Title     string    `gorm:"column:title" json:"title"`
	Price     int64     `gorm:"column:price" json:"price"`
	FileID    *string   `gorm:"column:file_id" json:"file_id,omitempty"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Variant) TableName() string { return "variants" }
