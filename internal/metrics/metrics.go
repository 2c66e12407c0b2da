// ============================================================================
// Bin-Workflow Metrics - Prometheus 監控指標
// ============================================================================
//
// Package: internal/metrics
// 文件: metrics.go
// 功能: 收集和暴露工作流程運行指標，支持 Prometheus 監控
//
// 監控理念:
//   基於 RED 方法（Rate, Errors, Duration）提供工作流程可觀測性
//
// 指標分類:
//
//   1. 工作流程計數器 (Counter) - 累計值，只增不減：
//      - workflow_transitions_total{state}: 各狀態的進入次數
//      - workflow_jobs_started_total: 啟動的工單總數
//      - workflow_jobs_completed_total: 完成的工單總數
//      - workflow_jobs_failed_total: 失敗（進入 error）的工單總數
//      - workflow_count_mismatch_total: 數量驗證不符的工單總數
//      - workflow_messages_dropped_total{cause}: 丟棄的入站訊息總數
//
//   2. 性能指標 (Histogram) - 分佈統計：
//      - workflow_job_duration_seconds: 工單從啟動到完成的耗時分佈
//        * 桶分佈: 1, 2.5, 5, 10, 20, 30, 60, 120, 300
//        * 一個工單週期以十秒級為主
//
//   3. 狀態指標 (Gauge) - 瞬時值：
//      - workflow_state: 目前狀態的序號（儀表板狀態列用）
//
// 使用場景:
//
//   監控告警:
//   - workflow_jobs_failed_total 增長率 → 產線異常告警
//   - workflow_count_mismatch_total 突增 → 秤或零件資料異常
//   - workflow_messages_dropped_total{cause="malformed"} → 設備服務版本不符
//
//   產能分析:
//   - rate(workflow_jobs_completed_total[5m]) → 產線吞吐
//   - histogram_quantile(0.95, workflow_job_duration_seconds_bucket) → 週期時間
//
// HTTP 端點:
//   通過 /metrics 端點暴露，由 Prometheus 定期抓取
//   默認端口: 9090
//   格式: OpenMetrics / Prometheus 文本格式
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// Collector Prometheus 指標收集器
// 方法對 nil 接收者安全，可在未啟用監控時直接略過
type Collector struct {
	transitions     *prometheus.CounterVec
	jobsStarted     prometheus.Counter
	jobsCompleted   prometheus.Counter
	jobsFailed      prometheus.Counter
	countMismatch   prometheus.Counter
	messagesDropped *prometheus.CounterVec

	jobDuration prometheus.Histogram

	currentState prometheus.Gauge
}

// stateIndex 狀態 → 儀表板序號
var stateIndex = map[types.WorkflowState]float64{
	types.StateIdle:          0,
	types.StateJobAllocation: 1,
	types.StateWaitingRfid:   2,
	types.StateWaitingWeight: 3,
	types.StateVerification:  4,
	types.StateJobCloseout:   5,
	types.StateDispatch:      6,
	types.StateError:         7,
}

// NewCollector 創建新的指標收集器並註冊到默認 registry
func NewCollector() *Collector {
	return NewCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry 創建指標收集器並註冊到指定 registry（測試用）
func NewCollectorWithRegistry(reg prometheus.Registerer) *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total number of state entries, by state",
		}, []string{"state"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_jobs_started_total",
			Help: "Total number of jobs started",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_jobs_completed_total",
			Help: "Total number of jobs completed",
		}),
		jobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_jobs_failed_total",
			Help: "Total number of jobs that entered the error state",
		}),
		countMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_count_mismatch_total",
			Help: "Total number of jobs whose verified count missed tolerance",
		}),
		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_messages_dropped_total",
			Help: "Total number of inbound messages dropped, by cause",
		}, []string{"cause"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_job_duration_seconds",
			Help:    "Job duration from start to completion in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		}),
		currentState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_state",
			Help: "Current workflow state as an ordinal",
		}),
	}

	reg.MustRegister(c.transitions)
	reg.MustRegister(c.jobsStarted)
	reg.MustRegister(c.jobsCompleted)
	reg.MustRegister(c.jobsFailed)
	reg.MustRegister(c.countMismatch)
	reg.MustRegister(c.messagesDropped)
	reg.MustRegister(c.jobDuration)
	reg.MustRegister(c.currentState)

	return c
}

// RecordTransition 記錄一次狀態進入
func (c *Collector) RecordTransition(state types.WorkflowState) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(string(state)).Inc()
	c.currentState.Set(stateIndex[state])
}

// RecordJobStarted 記錄工單啟動
func (c *Collector) RecordJobStarted() {
	if c == nil {
		return
	}
	c.jobsStarted.Inc()
}

// RecordJobCompleted 記錄工單完成及其耗時
func (c *Collector) RecordJobCompleted(durationSeconds float64) {
	if c == nil {
		return
	}
	c.jobsCompleted.Inc()
	c.jobDuration.Observe(durationSeconds)
}

// RecordJobFailed 記錄工單失敗
func (c *Collector) RecordJobFailed() {
	if c == nil {
		return
	}
	c.jobsFailed.Inc()
}

// RecordCountMismatch 記錄數量驗證不符
func (c *Collector) RecordCountMismatch() {
	if c == nil {
		return
	}
	c.countMismatch.Inc()
}

// RecordDropped 記錄丟棄的入站訊息
// cause: malformed / stale_correlation / wrong_state / unknown_device
func (c *Collector) RecordDropped(cause string) {
	if c == nil {
		return
	}
	c.messagesDropped.WithLabelValues(cause).Inc()
}

// StartServer 啟動 Prometheus metrics HTTP 伺服器
//
// 參數：
//   - port: HTTP 伺服器端口
//
// 返回值：
//   - error: 啟動失敗的錯誤
func StartServer(port int) error {
	http.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, nil)
}
