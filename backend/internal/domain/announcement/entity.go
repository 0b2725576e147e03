/*
 * @Author: NEFU AB-IN
 * @Date: 2025-10-20 10:12:40
 * @FilePath: \newsroom-cms\backend\internal\domain\announcement\entity.go
 * @LastEditTime: 2025-10-20 10:12:40
 */
package announcement

import "time"

// ChangeType 标记一条修订记录由哪类操作产生。
type ChangeType string

const (
	ChangeCreate    ChangeType = "CREATE"
	ChangeEdit      ChangeType = "EDIT"
	ChangePublish   ChangeType = "PUBLISH"
	ChangeUnpublish ChangeType = "UNPUBLISH"
	ChangeRestore   ChangeType = "RESTORE"
)

// Valid 判断是否为已知的变更类型。
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeCreate, ChangeEdit, ChangePublish, ChangeUnpublish, ChangeRestore:
		return true
	default:
		return false
	}
}

// Announcement 是公告的实时可变投影，公开站点与后台均读取此表。
type Announcement struct {
	ID          uint       `gorm:"primaryKey" json:"id"`                                            // 自增主键
	Title       string     `gorm:"size:255;not null" json:"title"`                                  // 标题
	Slug        string     `gorm:"size:191;not null;uniqueIndex:uk_announcements_slug" json:"slug"` // URL 友好的唯一标识
	Content     string     `gorm:"type:text;not null" json:"content"`                               // 富文本 HTML 正文
	Excerpt     string     `gorm:"type:text" json:"excerpt"`                                        // 摘要
	CategoryID  *uint      `gorm:"index" json:"category_id,omitempty"`                              // 所属分类
	AuthorID    uint       `gorm:"not null;index" json:"author_id"`                                 // 作者用户 ID
	Media       MediaField `gorm:"type:text" json:"media"`                                          // 图片/上传视频/外链视频三选一
	IsPublished bool       `gorm:"not null;default:false;index" json:"is_published"`                // 手动发布开关
	IsPinned    bool       `gorm:"not null;default:false" json:"is_pinned"`                         // 置顶
	IsHero      bool       `gorm:"not null;default:false" json:"is_hero"`                           // 首页头图位
	ScheduledAt *time.Time `gorm:"index" json:"scheduled_at,omitempty"`                             // 定时发布时间
	TakedownAt  *time.Time `gorm:"index" json:"takedown_at,omitempty"`                              // 定时下线时间
	ViewCount   uint64     `gorm:"not null;default:0" json:"view_count"`                            // 阅读数，只增不减
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName 指定公告表名。
func (Announcement) TableName() string {
	return "announcements"
}

// Snapshot 是修订记录冻结的可编辑字段集合。
type Snapshot struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Excerpt   string `json:"excerpt"`
	ImagePath string `json:"image_path"`
}

// Snapshot 提取当前公告的可编辑字段。
func (a Announcement) Snapshot() Snapshot {
	return Snapshot{
		Title:     a.Title,
		Content:   a.Content,
		Excerpt:   a.Excerpt,
		ImagePath: a.Media.ImagePath(),
	}
}

// ApplySnapshot 将历史快照写回公告。
// 快照带图片时替换当前媒体；快照无图片时仅清除当前图片，视频类媒体保持不变。
func (a *Announcement) ApplySnapshot(s Snapshot) {
	a.Title = s.Title
	a.Content = s.Content
	a.Excerpt = s.Excerpt
	switch {
	case s.ImagePath != "":
		a.Media = MediaField{Media: Image{Path: s.ImagePath}}
	case a.Media.Kind() == MediaImage:
		a.Media = MediaField{}
	}
}

// Visibility 计算公告在 now 时刻的公开可见性。
func (a Announcement) Visibility(now time.Time) Visibility {
	return ResolveVisibility(a.IsPublished, a.ScheduledAt, a.TakedownAt, now)
}

// State 返回后台展示用的生命周期状态。
func (a Announcement) State(now time.Time) State {
	return ResolveState(a.IsPublished, a.ScheduledAt, a.TakedownAt, now)
}

// Revision 是公告某一时刻的不可变快照，只追加、不修改、不删除。
type Revision struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	AnnouncementID uint       `gorm:"not null;uniqueIndex:uk_revisions_announcement_version,priority:1" json:"announcement_id"` // 所属公告
	Version        int        `gorm:"not null;uniqueIndex:uk_revisions_announcement_version,priority:2" json:"version"`         // 公告内递增版本号，从 1 开始
	Title          string     `gorm:"size:255;not null" json:"title"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	Excerpt        string     `gorm:"type:text" json:"excerpt"`
	ImagePath      string     `gorm:"size:512" json:"image_path"`
	ChangeType     ChangeType `gorm:"size:16;not null;index" json:"change_type"`
	ChangeSummary  string     `gorm:"size:512" json:"change_summary,omitempty"`
	AuthorID       uint       `gorm:"not null;index" json:"author_id"`
	CreatedAt      time.Time  `json:"created_at"`
}

// TableName 指定修订表名。
func (Revision) TableName() string {
	return "announcement_revisions"
}

// Snapshot 返回修订记录冻结的字段。
func (r Revision) Snapshot() Snapshot {
	return Snapshot{
		Title:     r.Title,
		Content:   r.Content,
		Excerpt:   r.Excerpt,
		ImagePath: r.ImagePath,
	}
}
