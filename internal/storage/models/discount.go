// internal/storage/models/discount.go
package models

// AchievementDiscount is the fee discount granted to a token by the achievement service.
type AchievementDiscount struct {
	BaseModel
	TokenID     string `gorm:"uniqueIndex;not null;type:varchar(64)"`
	DiscountBps uint32 `gorm:"not null;default:0"`
}
