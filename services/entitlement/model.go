package entitlement

import (
	"time"
)

// Entitlement is one row of the download ledger. The composite unique
// index over (order_ref, product_ref, variant_ref) makes provisioning
// idempotent; VariantRef stores the empty string when the purchase had
// no variant so the index still applies.
type Entitlement struct {
	ID             string     `gorm:"column:id;primaryKey" json:"id"`
	OwnerRef       string     `gorm:"column:owner_ref;index" json:"owner_ref"`
	OrderRef       string     `gorm:"column:order_ref;uniqueIndex:idx_entitlement_key;not null" json:"order_ref"`
	ProductRef     string     `gorm:"column:product_ref;uniqueIndex:idx_entitlement_key;not null" json:"product_ref"`
	VariantRef     string     `gorm:"column:variant_ref;uniqueIndex:idx_entitlement_key;default:''" json:"variant_ref"`
	FileRef        string     `gorm:"column:file_ref;not null" json:"file_ref"`
	DownloadCount  int        `gorm:"column:download_count;default:0" json:"download_count"`
	MaxDownloads   int        `gorm:"column:max_downloads;not null" json:"max_downloads"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null" json:"expires_at"`
	LastDownloadAt *time.Time `gorm:"column:last_download_at" json:"last_download_at,omitempty"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

func (e *Entitlement) Remaining() int {
	remaining := e.MaxDownloads - e.DownloadCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Entitlement) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// DownloadLog is the append-only audit trail of successful downloads.
type DownloadLog struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	EntitlementID string    `gorm:"column:entitlement_id;index;not null" json:"entitlement_id"`
	RemoteAddr    string    `gorm:"column:remote_addr" json:"remote_addr"`
	UserAgent     string    `gorm:"column:user_agent" json:"user_agent"`
	DownloadedAt  time.Time `gorm:"column:downloaded_at;autoCreateTime" json:"downloaded_at"`
}

func (DownloadLog) TableName() string { return "download_logs" }
