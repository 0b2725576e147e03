package subscriber

import (
	"time"

	"gorm.io/datatypes"
)

// Status 表示订阅者当前状态。
const (
	StatusActive       = "active"
	StatusUnsubscribed = "unsubscribed"
	StatusBlocked      = "blocked"
)

// Subscriber 邮件简报订阅者，投递本身由外部服务负责。
type Subscriber struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Email          string         `gorm:"size:255;not null;uniqueIndex:uk_subscribers_email" json:"email"` // 订阅邮箱（唯一）
	Status         string         `gorm:"size:16;not null;default:'active';index" json:"status"`           // active/unsubscribed/blocked
	Token          string         `gorm:"size:64;not null;uniqueIndex:uk_subscribers_token" json:"-"`      // 退订令牌
	Categories     datatypes.JSON `gorm:"type:json" json:"categories"`                                     // 关注的分类 ID 列表（JSON）
	SourceIP       string         `gorm:"size:64" json:"source_ip,omitempty"`                              // 订阅来源 IP
	UnsubscribedAt *time.Time     `json:"unsubscribed_at,omitempty"`                                       // 退订时间
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName 指定订阅者表名。
func (Subscriber) TableName() string {
	return "newsletter_subscribers"
}

// ValidStatus 判断状态是否合法。
func ValidStatus(status string) bool {
	switch status {
	case StatusActive, StatusUnsubscribed, StatusBlocked:
		return true
	default:
		return false
	}
}
