package announcement

import (
	"context"
	"fmt"
	"strings"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/infra/textutil"
	"newsroom-cms/backend/internal/repository"
)

const (
	fallbackSlug    = "announcement"
	maxSlugAttempts = 1000
)

func validateRequestedSlug(raw string) (string, error) {
	slug := strings.TrimSpace(raw)
	if slug == "" {
		return "", nil
	}
	if !textutil.IsValidSlug(slug) {
		return "", domain.NewValidationError("slug", "slug may only contain lowercase letters, digits and single dashes")
	}
	return slug, nil
}

// allocateSlug 返回可用的 slug。显式指定的 slug 被占用时报校验错误；
// 由标题生成的 slug 冲突时依次追加 -2、-3 ……
func (s *Service) allocateSlug(ctx context.Context, repo *repository.AnnouncementRepository, requested, title string, excludeID uint) (string, error) {
	if requested != "" {
		exists, err := repo.SlugExists(ctx, requested, excludeID)
		if err != nil {
			return "", err
		}
		if exists {
			return "", domain.NewValidationError("slug", "slug is already in use")
		}
		return requested, nil
	}

	base := textutil.Slugify(title)
	if base == "" {
		base = fallbackSlug
	}
	for i := 1; i <= maxSlugAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		exists, err := repo.SlugExists(ctx, candidate, excludeID)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free slug for %q", domain.ErrConflict, base)
}
