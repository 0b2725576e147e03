package category

import "time"

// Category 公告分类。
type Category struct {
	ID          uint      `gorm:"primaryKey" json:"id"`                                         // 主键
	Name        string    `gorm:"size:128;not null" json:"name"`                                // 展示名称
	Slug        string    `gorm:"size:128;not null;uniqueIndex:uk_categories_slug" json:"slug"` // URL 标识
	Description string    `gorm:"type:text" json:"description"`                                 // 描述
	SortOrder   int       `gorm:"not null;default:0;index" json:"sort_order"`                   // 排序，越小越靠前
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName 指定分类表名。
func (Category) TableName() string {
	return "categories"
}
