package announcement

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// MediaKind 区分公告的媒体形态。
type MediaKind string

const (
	MediaNone          MediaKind = ""
	MediaImage         MediaKind = "image"
	MediaUploadedVideo MediaKind = "video"
	MediaExternalVideo MediaKind = "youtube"
)

// Media 是公告媒体的和类型，同一时刻只有一种实现处于生效状态。
type Media interface {
	Kind() MediaKind
}

// Image 静态图片。
type Image struct {
	Path string
}

func (Image) Kind() MediaKind { return MediaImage }

// UploadedVideo 上传到站内的视频文件，Format 记录容器格式（如 mp4）。
type UploadedVideo struct {
	Path   string
	Format string
}

func (UploadedVideo) Kind() MediaKind { return MediaUploadedVideo }

// ExternalVideo 外链视频，例如 YouTube 地址。
type ExternalVideo struct {
	URL string
}

func (ExternalVideo) Kind() MediaKind { return MediaExternalVideo }

// NewMedia 根据类型与字段构造媒体，字段与类型不匹配时返回校验错误。
func NewMedia(kind MediaKind, path, format, url string) (Media, error) {
	path = strings.TrimSpace(path)
	format = strings.TrimSpace(format)
	url = strings.TrimSpace(url)

	switch kind {
	case MediaNone:
		if path != "" || url != "" {
			return nil, NewValidationError("media", "media kind is required when a path or url is given")
		}
		return nil, nil
	case MediaImage:
		if path == "" {
			return nil, NewValidationError("media.path", "image path is required")
		}
		if url != "" || format != "" {
			return nil, NewValidationError("media", "image media only accepts a path")
		}
		return Image{Path: path}, nil
	case MediaUploadedVideo:
		if path == "" {
			return nil, NewValidationError("media.path", "video path is required")
		}
		if url != "" {
			return nil, NewValidationError("media", "uploaded video does not accept an url")
		}
		return UploadedVideo{Path: path, Format: format}, nil
	case MediaExternalVideo:
		if url == "" {
			return nil, NewValidationError("media.url", "video url is required")
		}
		if path != "" || format != "" {
			return nil, NewValidationError("media", "external video only accepts an url")
		}
		return ExternalVideo{URL: url}, nil
	default:
		return nil, NewValidationError("media.kind", fmt.Sprintf("unsupported media kind %q", kind))
	}
}

// MediaField 负责媒体和类型在数据库与 JSON 中的编解码。
type MediaField struct {
	Media Media
}

// Kind 返回当前媒体类型，无媒体时为 MediaNone。
func (m MediaField) Kind() MediaKind {
	if m.Media == nil {
		return MediaNone
	}
	return m.Media.Kind()
}

// ImagePath 仅在媒体为图片时返回路径，供修订快照使用。
func (m MediaField) ImagePath() string {
	if img, ok := m.Media.(Image); ok {
		return img.Path
	}
	return ""
}

type mediaPayload struct {
	Kind   MediaKind `json:"kind"`
	Path   string    `json:"path,omitempty"`
	Format string    `json:"format,omitempty"`
	URL    string    `json:"url,omitempty"`
}

func (m MediaField) payload() *mediaPayload {
	switch v := m.Media.(type) {
	case Image:
		return &mediaPayload{Kind: MediaImage, Path: v.Path}
	case UploadedVideo:
		return &mediaPayload{Kind: MediaUploadedVideo, Path: v.Path, Format: v.Format}
	case ExternalVideo:
		return &mediaPayload{Kind: MediaExternalVideo, URL: v.URL}
	default:
		return nil
	}
}

func (m *MediaField) fromPayload(p *mediaPayload) error {
	if p == nil || p.Kind == MediaNone {
		m.Media = nil
		return nil
	}
	media, err := NewMedia(p.Kind, p.Path, p.Format, p.URL)
	if err != nil {
		return err
	}
	m.Media = media
	return nil
}

// MarshalJSON 以 {"kind":...} 形式输出，无媒体时输出 null。
func (m MediaField) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.payload())
}

// UnmarshalJSON 解析并校验媒体载荷。
func (m *MediaField) UnmarshalJSON(data []byte) error {
	var p *mediaPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return m.fromPayload(p)
}

// Value 实现 driver.Valuer，无媒体时写入 NULL。
func (m MediaField) Value() (driver.Value, error) {
	p := m.payload()
	if p == nil {
		return nil, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode media: %w", err)
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner。
func (m *MediaField) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		m.Media = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan media: unsupported type %T", src)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		m.Media = nil
		return nil
	}
	var p mediaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode media: %w", err)
	}
	return m.fromPayload(&p)
}
