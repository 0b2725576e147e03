package feed

import (
	"bytes"
	"cmp"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/infra/metrics"
	"newsroom-cms/backend/internal/repository"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 描述 RSS 频道信息与缓存参数。
type Config struct {
	Title       string
	BaseURL     string
	Description string
	Language    string
	Limit       int
	CacheKey    string
	CacheTTL    time.Duration
}

func (c Config) normalized() Config {
	if c.Title == "" {
		c.Title = "Newsroom"
	}
	if c.Limit <= 0 {
		c.Limit = 20
	}
	if c.CacheKey == "" {
		c.CacheKey = "newsroom:feed:rss"
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 5 * time.Minute
	}
	return c
}

// Service 生成公开公告的 RSS 2.0 输出，配置 Redis 时缓存生成结果。
type Service struct {
	announcements *repository.AnnouncementRepository
	categories    *repository.CategoryRepository
	redis         *redis.Client
	cfg           Config
	logger        *zap.SugaredLogger
	now           func() time.Time
}

// NewService 创建 RSS 服务，redisClient 可为 nil。
func NewService(announcements *repository.AnnouncementRepository, categories *repository.CategoryRepository, redisClient *redis.Client, cfg Config, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		announcements: announcements,
		categories:    categories,
		redis:         redisClient,
		cfg:           cfg.normalized(),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock 替换时间来源，测试使用。
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// RSS 返回当前公开公告的 RSS 文档，优先读取缓存。
func (s *Service) RSS(ctx context.Context) (string, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, s.cfg.CacheKey).Result()
		switch {
		case err == nil:
			metrics.RecordFeedCache(true)
			return cached, nil
		case !errors.Is(err, redis.Nil):
			s.logger.Warnw("read feed cache failed", "error", err)
		}
		metrics.RecordFeedCache(false)
	}

	doc, err := s.Generate(ctx)
	if err != nil {
		return "", err
	}
	if s.redis != nil {
		if err := s.redis.Set(ctx, s.cfg.CacheKey, doc, s.cfg.CacheTTL).Err(); err != nil {
			s.logger.Warnw("write feed cache failed", "error", err)
		}
	}
	return doc, nil
}

// Invalidate 删除缓存的 RSS 文档，下次请求时重新生成。
func (s *Service) Invalidate(ctx context.Context) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, s.cfg.CacheKey).Err(); err != nil {
		s.logger.Warnw("invalidate feed cache failed", "error", err)
	}
}

// Generate 不经缓存直接生成 RSS 文档。
func (s *Service) Generate(ctx context.Context) (string, error) {
	now := s.now()
	items, _, err := s.announcements.List(ctx, repository.AnnouncementListFilter{
		State:      domain.StatePublished,
		Now:        now,
		Limit:      s.cfg.Limit,
		PublicSort: true,
	})
	if err != nil {
		return "", fmt.Errorf("load feed items: %w", err)
	}

	categoryNames := map[uint]string{}
	if s.categories != nil {
		list, err := s.categories.List(ctx)
		if err != nil {
			s.logger.Warnw("load feed categories failed", "error", err)
		}
		for _, c := range list {
			categoryNames[c.ID] = c.Name
		}
	}

	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	writeElement(&buf, "title", s.cfg.Title, 4)
	writeElement(&buf, "link", cmp.Or(s.cfg.BaseURL, "/"), 4)
	writeElement(&buf, "description", cmp.Or(s.cfg.Description, s.cfg.Title), 4)
	fmt.Fprintf(&buf, "    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(s.cfg.BaseURL+"/feed.xml"))
	if s.cfg.Language != "" {
		writeElement(&buf, "language", s.cfg.Language, 4)
	}

	lastBuild := now
	if len(items) > 0 {
		lastBuild = publishedAt(items[0])
	}
	writeElement(&buf, "lastBuildDate", lastBuild.Format(time.RFC1123Z), 4)

	for _, item := range items {
		if !item.Visibility(now).Visible {
			continue
		}
		s.writeItem(&buf, item, categoryNames)
	}

	buf.WriteString("  </channel>\n</rss>\n")
	return buf.String(), nil
}

func (s *Service) writeItem(buf *bytes.Buffer, item domain.Announcement, categoryNames map[uint]string) {
	link := s.cfg.BaseURL + "/announcements/" + item.Slug

	buf.WriteString("    <item>\n")
	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte("announcement-"+strconv.FormatUint(uint64(item.ID), 10)))
	buf.WriteString("</guid>\n")
	writeElement(buf, "title", item.Title, 6)
	writeElement(buf, "link", link, 6)
	writeElement(buf, "description", cmp.Or(item.Excerpt, item.Title), 6)
	if item.Content != "" {
		buf.WriteString("      <content:encoded><![CDATA[")
		buf.WriteString(escapeCDATA(item.Content))
		buf.WriteString("]]></content:encoded>\n")
	}
	writeElement(buf, "pubDate", publishedAt(item).Format(time.RFC1123Z), 6)
	if item.CategoryID != nil {
		writeElement(buf, "category", categoryNames[*item.CategoryID], 6)
	}
	if img, ok := item.Media.Media.(domain.Image); ok && img.Path != "" {
		fmt.Fprintf(buf, "      <enclosure url=\"%s\" length=\"0\" type=\"%s\" />\n",
			html.EscapeString(absoluteURL(s.cfg.BaseURL, img.Path)), imageMIME(img.Path))
	}
	buf.WriteString("    </item>\n")
}

// publishedAt 以定时发布时间为准，未设置时回退到创建时间。
func publishedAt(item domain.Announcement) time.Time {
	if item.ScheduledAt != nil {
		return *item.ScheduledAt
	}
	return item.CreatedAt
}

func writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}
	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}
	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}

// escapeCDATA 拆分正文中的 "]]>"，避免提前结束 CDATA 段。
func escapeCDATA(content string) string {
	return strings.ReplaceAll(content, "]]>", "]]]]><![CDATA[>")
}

func absoluteURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func imageMIME(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
