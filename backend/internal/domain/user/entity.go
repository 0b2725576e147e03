/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-08 20:38:45
 * @FilePath: \newsroom-cms\backend\internal\domain\user\entity.go
 * @LastEditTime: 2025-10-20 11:02:17
 */
package user

import "time"

// User 表示后台编辑账号。账号的创建与登录由外部认证服务负责，这里只读取作者信息。
type User struct {
	ID          uint      `gorm:"primaryKey" json:"id"`                // 自增主键
	Username    string    `gorm:"size:64;uniqueIndex" json:"username"` // 唯一用户名
	DisplayName string    `gorm:"size:128" json:"display_name"`        // 署名
	Email       string    `gorm:"size:255;uniqueIndex" json:"email"`   // 邮箱（唯一）
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`          // 头像地址
	IsAdmin     bool      `gorm:"default:false" json:"is_admin"`       // 管理员标记
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Brief 是对外展示的作者摘要。
type Brief struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Brief 返回作者摘要，署名为空时回退到用户名。
func (u User) Brief() Brief {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Brief{ID: u.ID, Username: u.Username, DisplayName: name, AvatarURL: u.AvatarURL}
}
