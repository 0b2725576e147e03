package scheduler

import (
	"context"
	"sync"
	"time"

	domain "newsroom-cms/backend/internal/domain/announcement"
	"newsroom-cms/backend/internal/infra/metrics"
	"newsroom-cms/backend/internal/repository"

	"go.uber.org/zap"
)

// CacheInvalidator 在可见性发生变化后清理公开缓存。
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// ViewFlusher 将缓冲的阅读数写回数据库。
type ViewFlusher interface {
	Flush(ctx context.Context) (int, error)
}

// Transition 描述一次由定时字段引起的可见性变化。
type Transition struct {
	AnnouncementID uint                    `json:"announcement_id"`
	Slug           string                  `json:"slug"`
	Visible        bool                    `json:"visible"`
	Reason         domain.VisibilityReason `json:"reason"`
}

// Report 是单次巡检的结果。
type Report struct {
	From         time.Time    `json:"from"`
	To           time.Time    `json:"to"`
	Transitions  []Transition `json:"transitions"`
	ViewsFlushed int          `json:"views_flushed"`
}

// Sweeper 周期性巡检定时发布/下线的边界。
// 可见性始终由读取时的判定函数计算，巡检不修改 is_published，只负责记录变化、清理缓存与刷写阅读数，
// 因此读时判定与巡检结果对同一时刻总是一致。
type Sweeper struct {
	announcements *repository.AnnouncementRepository
	cache         CacheInvalidator
	views         ViewFlusher
	interval      time.Duration
	logger        *zap.SugaredLogger
	now           func() time.Time

	mu        sync.Mutex
	lastSweep time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper 创建巡检任务，cache 与 views 可为 nil。
func NewSweeper(announcements *repository.AnnouncementRepository, cache CacheInvalidator, views ViewFlusher, interval time.Duration, logger *zap.SugaredLogger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		announcements: announcements,
		cache:         cache,
		views:         views,
		interval:      interval,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		ctx:           ctx,
		cancel:        cancel,
	}
}

// WithClock 替换时间来源，测试使用。
func (s *Sweeper) WithClock(fn func() time.Time) *Sweeper {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Start 启动后台巡检，启动时立即执行一次。
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.tick()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
	s.logger.Infow("publication sweeper started", "interval", s.interval)
}

// Stop 停止巡检并等待正在执行的一轮结束，最后再刷写一次阅读数。
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	if s.views != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := s.views.Flush(ctx); err != nil {
			s.logger.Warnw("final view flush failed", "error", err)
		}
	}
	s.logger.Infow("publication sweeper stopped")
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.interval)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Warnw("sweep failed", "error", err)
	}
}

// RunOnce 执行一轮巡检：找出定时字段落在 (上次巡检, 现在] 区间的公告，
// 比较两个时刻的可见性并记录变化。首轮以 now-interval 作为区间起点。
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	started := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	to := s.now()
	from := s.lastSweep
	if from.IsZero() {
		from = to.Add(-s.interval)
	}
	report := &Report{From: from, To: to}

	candidates, err := s.announcements.ListBoundaryCrossings(ctx, from, to)
	if err != nil {
		metrics.ObserveSweep("error", time.Since(started))
		return nil, err
	}
	for _, item := range candidates {
		before := item.Visibility(from)
		after := item.Visibility(to)
		if before.Visible == after.Visible {
			continue
		}
		report.Transitions = append(report.Transitions, Transition{
			AnnouncementID: item.ID,
			Slug:           item.Slug,
			Visible:        after.Visible,
			Reason:         after.Reason,
		})
		direction := "hidden"
		if after.Visible {
			direction = "shown"
		}
		metrics.RecordVisibilityTransition(direction)
		s.logger.Infow("announcement visibility changed",
			"announcement_id", item.ID,
			"slug", item.Slug,
			"visible", after.Visible,
			"reason", after.Reason,
		)
	}

	if len(report.Transitions) > 0 && s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.views != nil {
		flushed, err := s.views.Flush(ctx)
		if err != nil {
			s.logger.Warnw("flush buffered views failed", "error", err)
		}
		report.ViewsFlushed = flushed
	}

	s.lastSweep = to
	metrics.ObserveSweep("ok", time.Since(started))
	return report, nil
}
