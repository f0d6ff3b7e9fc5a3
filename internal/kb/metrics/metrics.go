// Package metrics 收集知识库的业务指标：索引任务、检索与问答。
//
// 指标注册到 pkg/observability/metrics 的默认注册表，由 /metrics 导出。
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	obs "github.com/kart-io/sentinel-kb/pkg/observability/metrics"
)

// 问答结果分类。
const (
	OutcomeAnswered = "answered"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// KBMetrics 知识库业务指标。
type KBMetrics struct {
	// 索引指标
	ingestJobs     *prometheus.CounterVec // status
	ingestDuration prometheus.Histogram
	chunksIndexed  prometheus.Counter
	ingestRunning  prometheus.Gauge

	// 检索指标
	searches       *prometheus.CounterVec // mode, cache
	searchErrors   prometheus.Counter
	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram

	// 问答指标
	answers     *prometheus.CounterVec // outcome
	llmCalls    prometheus.Counter
	llmErrors   prometheus.Counter
	llmDuration prometheus.Histogram
}

var (
	globalKBMetrics *KBMetrics
	kbMetricsMu     sync.Mutex
)

// Get 返回全局指标实例。
func Get() *KBMetrics {
	kbMetricsMu.Lock()
	defer kbMetricsMu.Unlock()
	if globalKBMetrics == nil {
		globalKBMetrics = newKBMetrics()
		_ = obs.Default().Register(globalKBMetrics.collectors()...)
	}
	return globalKBMetrics
}

// Reset 注销并丢弃全局实例，仅用于测试。
func Reset() {
	kbMetricsMu.Lock()
	defer kbMetricsMu.Unlock()
	if globalKBMetrics != nil {
		obs.Default().Unregister(globalKBMetrics.collectors()...)
	}
	globalKBMetrics = nil
}

func newKBMetrics() *KBMetrics {
	return &KBMetrics{
		ingestJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_ingestion_jobs_total",
			Help: "Ingestion jobs by final status.",
		}, []string{"status"}),
		ingestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kb_ingestion_duration_seconds",
			Help:    "Ingestion job duration in seconds.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		chunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kb_chunks_indexed_total",
			Help: "Chunks written to the vector store.",
		}),
		ingestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kb_ingestion_running",
			Help: "Ingestion jobs currently running.",
		}),

		searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_searches_total",
			Help: "Searches by mode and cache outcome.",
		}, []string{"mode", "cache"}),
		searchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kb_search_errors_total",
			Help: "Failed searches.",
		}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kb_search_duration_seconds",
			Help:    "Search latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		searchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kb_search_results",
			Help:    "Results returned per search.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kb_answers_total",
			Help: "Answers by outcome.",
		}, []string{"outcome"}),
		llmCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kb_llm_calls_total",
			Help: "Chat completion calls.",
		}),
		llmErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kb_llm_errors_total",
			Help: "Failed chat completion calls.",
		}),
		llmDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kb_llm_duration_seconds",
			Help:    "Chat completion latency in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
}

func (m *KBMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ingestJobs, m.ingestDuration, m.chunksIndexed, m.ingestRunning,
		m.searches, m.searchErrors, m.searchDuration, m.searchResults,
		m.answers, m.llmCalls, m.llmErrors, m.llmDuration,
	}
}

// IngestionStarted 记录任务开始，返回的函数在任务结束时调用。
func (m *KBMetrics) IngestionStarted() func(chunks int, err error) {
	start := time.Now()
	m.ingestRunning.Inc()
	return func(chunks int, err error) {
		m.ingestRunning.Dec()
		m.ingestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.ingestJobs.WithLabelValues("failed").Inc()
			return
		}
		m.ingestJobs.WithLabelValues("completed").Inc()
		m.chunksIndexed.Add(float64(chunks))
	}
}

// RecordSearch 记录一次检索。
func (m *KBMetrics) RecordSearch(mode string, cacheHit bool, duration time.Duration, results int, err error) {
	if err != nil {
		m.searchErrors.Inc()
		return
	}
	m.searches.WithLabelValues(mode, hitLabel(cacheHit)).Inc()
	m.searchDuration.Observe(duration.Seconds())
	m.searchResults.Observe(float64(results))
}

// RecordLLMCall 记录一次 Chat 调用。
func (m *KBMetrics) RecordLLMCall(duration time.Duration, err error) {
	m.llmCalls.Inc()
	m.llmDuration.Observe(duration.Seconds())
	if err != nil {
		m.llmErrors.Inc()
	}
}

// RecordAnswer 记录问答结果。
func (m *KBMetrics) RecordAnswer(outcome string) {
	m.answers.WithLabelValues(outcome).Inc()
}

// Stats 返回关键计数的快照。
func (m *KBMetrics) Stats() map[string]any {
	return map[string]any{
		"ingestion": map[string]any{
			"completed": obs.Value(m.ingestJobs.WithLabelValues("completed")),
			"failed":    obs.Value(m.ingestJobs.WithLabelValues("failed")),
			"running":   obs.Value(m.ingestRunning),
			"chunks":    obs.Value(m.chunksIndexed),
		},
		"search": map[string]any{
			"errors": obs.Value(m.searchErrors),
		},
		"llm": map[string]any{
			"calls":  obs.Value(m.llmCalls),
			"errors": obs.Value(m.llmErrors),
		},
	}
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
