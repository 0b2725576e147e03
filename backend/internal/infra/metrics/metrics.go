package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registerOnce           sync.Once
	revisionsRecorded      *prometheus.CounterVec
	versionConflicts       *prometheus.CounterVec
	restoreRequests        *prometheus.CounterVec
	visibilityTransitions  *prometheus.CounterVec
	viewIncrementsDropped  *prometheus.CounterVec
	feedCacheLookups       *prometheus.CounterVec
	sweepDuration          *prometheus.HistogramVec
	defaultDurationBuckets = prometheus.DefBuckets
)

const (
	namespaceMetrics = "newsroom"
)

// MustRegister 初始化 Prometheus 指标并注册 Go 运行时采样器，需在应用启动阶段调用一次。
func MustRegister() {
	registerOnce.Do(func() {
		revisionsRecorded = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "ledger",
					Name:      "revisions_recorded_total",
					Help:      "写入的修订数量，按变更类型统计。",
				},
				[]string{"change_type"},
			),
		)
		versionConflicts = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "ledger",
					Name:      "version_conflicts_total",
					Help:      "版本号分配冲突次数，outcome 区分已重试与重试耗尽。",
				},
				[]string{"outcome"},
			),
		)
		restoreRequests = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "ledger",
					Name:      "restores_total",
					Help:      "回滚到历史修订的调用次数，按结果分类。",
				},
				[]string{"result"},
			),
		)
		visibilityTransitions = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "sweeper",
					Name:      "visibility_transitions_total",
					Help:      "巡检观察到的公开可见性变化，按方向统计。",
				},
				[]string{"direction"},
			),
		)
		sweepDuration = registerHistogramVec(
			prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespaceMetrics,
					Subsystem: "sweeper",
					Name:      "duration_seconds",
					Help:      "单次巡检耗时，按结果区分。",
					Buckets:   defaultDurationBuckets,
				},
				[]string{"status"},
			),
		)
		viewIncrementsDropped = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "views",
					Name:      "increments_dropped_total",
					Help:      "被丢弃的阅读数累加次数，按失败阶段统计。",
				},
				[]string{"stage"},
			),
		)
		feedCacheLookups = registerCounterVec(
			prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespaceMetrics,
					Subsystem: "feed",
					Name:      "cache_lookups_total",
					Help:      "RSS 缓存命中情况。",
				},
				[]string{"result"},
			),
		)

		registerRuntimeCollectors()
	})
}

// RecordRevision 记录一次修订写入。
func RecordRevision(changeType string) {
	if revisionsRecorded == nil {
		return
	}
	revisionsRecorded.WithLabelValues(normalizeLabel(changeType, "unknown")).Inc()
}

// RecordVersionConflict 记录版本分配冲突，outcome 取 retried 或 exhausted。
func RecordVersionConflict(outcome string) {
	if versionConflicts == nil {
		return
	}
	versionConflicts.WithLabelValues(normalizeLabel(outcome, "unknown")).Inc()
}

// RecordRestore 记录回滚结果分布。
func RecordRestore(result string) {
	if restoreRequests == nil {
		return
	}
	restoreRequests.WithLabelValues(normalizeLabel(result, "unknown")).Inc()
}

// RecordVisibilityTransition 记录巡检发现的可见性变化，direction 取 shown 或 hidden。
func RecordVisibilityTransition(direction string) {
	if visibilityTransitions == nil {
		return
	}
	visibilityTransitions.WithLabelValues(normalizeLabel(direction, "unknown")).Inc()
}

// ObserveSweep 记录单次巡检耗时。
func ObserveSweep(status string, duration time.Duration) {
	if sweepDuration == nil {
		return
	}
	sweepDuration.WithLabelValues(normalizeLabel(status, "unknown")).Observe(duration.Seconds())
}

// RecordViewDropped 记录阅读数累加失败。
func RecordViewDropped(stage string) {
	if viewIncrementsDropped == nil {
		return
	}
	viewIncrementsDropped.WithLabelValues(normalizeLabel(stage, "unknown")).Inc()
}

// RecordFeedCache 记录 RSS 缓存命中或未命中。
func RecordFeedCache(hit bool) {
	if feedCacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	feedCacheLookups.WithLabelValues(result).Inc()
}

func normalizeLabel(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func registerCounterVec(vec *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(vec); err != nil {
		if existing := alreadyRegisteredCounterVec(err); existing != nil {
			return existing
		}
		panic(err)
	}
	return vec
}

func registerHistogramVec(vec *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := prometheus.Register(vec); err != nil {
		if existing := alreadyRegisteredHistogramVec(err); existing != nil {
			return existing
		}
		panic(err)
	}
	return vec
}

func registerRuntimeCollectors() {
	if err := prometheus.Register(collectors.NewGoCollector()); err != nil {
		if !isAlreadyRegistered(err) {
			panic(err)
		}
	}
	if err := prometheus.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		if !isAlreadyRegistered(err) {
			panic(err)
		}
	}
}

func alreadyRegisteredCounterVec(err error) *prometheus.CounterVec {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	return nil
}

func alreadyRegisteredHistogramVec(err error) *prometheus.HistogramVec {
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
			return existing
		}
	}
	return nil
}

func isAlreadyRegistered(err error) bool {
	_, ok := err.(prometheus.AlreadyRegisteredError)
	return ok
}
