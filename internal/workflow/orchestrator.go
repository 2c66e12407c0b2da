// ============================================================================
// Bin-Workflow 協調器 - 頂層組裝與生命週期
// ============================================================================
//
// Package: internal/workflow
// 文件: orchestrator.go
// 功能: 組裝匯流排、閘道、排程器、逾時監督器與查詢服務，
//       驅動完整的料箱處理流程
//
// 流程循環:
//   Idle → JobAllocation → WaitingRfid → WaitingWeight → Verification
//        → JobCloseout → Dispatch → Idle；任何狀態 → Error → Idle
//
// 架構分工:
//   - orchestrator.go: 配置、組裝、生命週期、對外事件發布
//   - router.go:       入站訊息的解析、過濾與分發
//   - states.go:       各狀態的進入動作與事件處理（業務規則）
//   - history.go:      完成工單的記憶體內歸檔
//
// ============================================================================

package workflow

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ChuLiYu/bin-workflow/internal/bus"
	"github.com/ChuLiYu/bin-workflow/internal/gateway"
	"github.com/ChuLiYu/bin-workflow/internal/lookup"
	"github.com/ChuLiYu/bin-workflow/internal/metrics"
	"github.com/ChuLiYu/bin-workflow/internal/scheduler"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

var log = slog.Default()

// Config 協調器配置
type Config struct {
	// TopicRoot 主題根，預設 "factory"
	TopicRoot string

	// Devices 邏輯角色 → 設備 ID 的初始對應
	Devices map[types.DeviceRole]string

	// AutoStartThreshold 閒置時自動開工的重量門檻（kg）
	AutoStartThreshold float64
	// RemovalFraction 結單時判定離秤的重量比例（相對滿箱重量）
	RemovalFraction float64

	// Dwell 各狀態的最短停留時間
	Dwell map[types.WorkflowState]time.Duration
	// Timeouts 有時限狀態的最長等待時間，0 表示不限
	Timeouts map[types.WorkflowState]time.Duration
	// PollInterval 逾時輪詢週期
	PollInterval time.Duration

	// 查詢服務的表與鍵欄位
	PartTable     string
	PartKeyColumn string
	BinTable      string
	BinKeyColumn  string

	// HistoryLimit 記憶體內保留的完成工單筆數
	HistoryLimit int
}

// DefaultConfig 回傳預設配置
// 門檻值為經驗參數，可由設定檔覆寫
func DefaultConfig() Config {
	return Config{
		TopicRoot:          "factory",
		AutoStartThreshold: 1.25,
		RemovalFraction:    0.30,
		Dwell: map[types.WorkflowState]time.Duration{
			types.StateJobAllocation: time.Second,
			types.StateWaitingRfid:   time.Second,
			types.StateWaitingWeight: time.Second,
			types.StateVerification:  2 * time.Second,
			types.StateJobCloseout:   time.Second,
			types.StateDispatch:      time.Second,
			types.StateError:         2 * time.Second,
		},
		Timeouts: map[types.WorkflowState]time.Duration{
			types.StateJobAllocation: time.Hour, // 實務上等人，近乎不限時
			types.StateWaitingRfid:   10 * time.Second,
			types.StateWaitingWeight: 15 * time.Second,
		},
		PollInterval:  250 * time.Millisecond,
		PartTable:     "part_weight_db",
		PartKeyColumn: types.PartKeyNumber,
		BinTable:      "rfid_bin_db",
		BinKeyColumn:  types.BinKeyEpc,
		HistoryLimit:  100,
	}
}

// Orchestrator 工作流程協調器
type Orchestrator struct {
	cfg   Config
	bus   bus.Client
	gw    *gateway.Gateway
	sched *scheduler.Scheduler
	sup   *scheduler.Supervisor
	store lookup.Store
	coll  *metrics.Collector

	// job 目前進行中的工單，只在排程器事件迴圈上讀寫
	job     *types.JobContext
	history *History
}

// New 建立協調器
// collector 可為 nil（未啟用監控）
func New(client bus.Client, store lookup.Store, cfg Config, collector *metrics.Collector) *Orchestrator {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "factory"
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}

	o := &Orchestrator{
		cfg:     cfg,
		bus:     client,
		store:   store,
		coll:    collector,
		history: NewHistory(cfg.HistoryLimit),
	}

	registry := gateway.NewDeviceRegistry(cfg.Devices)
	o.gw = gateway.New(client, registry, cfg.TopicRoot, o.currentCorrelation)
	o.sched = scheduler.New(types.StateIdle, cfg.Dwell, o.onEnter)
	o.sup = scheduler.NewSupervisor(cfg.PollInterval, o.onTimeout)

	return o
}

// Start 訂閱入站主題並啟動狀態機
//
// 訂閱：
//   - {root}/+/+/data|status|error  所有設備訊息
//   - {root}/workflow/cmd/+         控制命令
//
// 訂閱完成後進入 Idle，啟動磅秤監測等待開工。
func (o *Orchestrator) Start() error {
	subs := []string{
		o.cfg.TopicRoot + "/+/+/data",
		o.cfg.TopicRoot + "/+/+/status",
		o.cfg.TopicRoot + "/+/+/error",
		o.cfg.TopicRoot + "/workflow/cmd/+",
	}
	for _, filter := range subs {
		if err := o.bus.Subscribe(filter, o.route); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", filter, err)
		}
	}

	o.sched.Start()
	o.sup.Start()

	// 觸發 Idle 的進入動作（開始磅秤監測）
	o.sched.Force(types.StateIdle, "startup")

	log.Info("Workflow orchestrator started", "topic_root", o.cfg.TopicRoot)
	return nil
}

// Stop 停止狀態機與逾時監督器
// 不關閉匯流排連線，連線由呼叫端管理
func (o *Orchestrator) Stop() {
	o.sup.Stop()
	o.sched.Stop()
	log.Info("Workflow orchestrator stopped")
}

// State 回傳目前狀態（快照）
func (o *Orchestrator) State() types.WorkflowState {
	return o.sched.State()
}

// JobSnapshot 回傳目前工單的副本，沒有工單時回傳 nil
func (o *Orchestrator) JobSnapshot() *types.JobContext {
	var snap *types.JobContext
	o.sched.Sync(func() {
		if o.job != nil {
			cp := *o.job
			snap = &cp
		}
	})
	return snap
}

// History 回傳完成工單的歸檔
func (o *Orchestrator) History() *History {
	return o.history
}

// Gateway 回傳設備閘道（模擬器與測試使用）
func (o *Orchestrator) Gateway() *gateway.Gateway {
	return o.gw
}

// currentCorrelation 供閘道讀取目前工單的 correlation id
// 在事件迴圈上或鎖下讀取皆安全：欄位建立後不再改寫
func (o *Orchestrator) currentCorrelation() string {
	if o.job == nil {
		return ""
	}
	return o.job.CorrelationID
}

// ============================================================================
// 轉換後處理（排程器事件迴圈上執行）
// ============================================================================

// onEnter 每次狀態轉換執行後呼叫：
// 記錄指標 → 武裝/解除逾時 → 發布狀態事件 → 執行進入動作
func (o *Orchestrator) onEnter(from, to types.WorkflowState, reason string) {
	o.coll.RecordTransition(to)

	if limit, timed := o.cfg.Timeouts[to]; timed && limit > 0 {
		o.sup.Arm(to, limit)
	} else {
		o.sup.Disarm()
	}

	o.publishStatus()
	o.enterState(to, reason)
}

// onTimeout 逾時監督器回呼（輪詢 goroutine 上執行）
func (o *Orchestrator) onTimeout(state types.WorkflowState, limit time.Duration) {
	o.sched.Force(types.StateError,
		fmt.Sprintf("timeout in state %s after %s", stateLabel(state), limit))
}

// stateLabel 逾時與確認訊息中使用的狀態名稱
func stateLabel(s types.WorkflowState) string {
	switch s {
	case types.StateIdle:
		return "Idle"
	case types.StateJobAllocation:
		return "JobAllocation"
	case types.StateWaitingRfid:
		return "WaitingRfid"
	case types.StateWaitingWeight:
		return "WaitingWeight"
	case types.StateVerification:
		return "Verification"
	case types.StateJobCloseout:
		return "JobCloseout"
	case types.StateDispatch:
		return "Dispatch"
	case types.StateError:
		return "Error"
	}
	return string(s)
}

// ============================================================================
// 工單建立與數量驗證
// ============================================================================

// newJob 建立新工單（事件迴圈上執行）
func (o *Orchestrator) newJob() *types.JobContext {
	now := time.Now()
	job := &types.JobContext{
		JobID:         "JOB_" + now.Format("20060102_150405"),
		CorrelationID: uuid.NewString(),
		StartedAt:     now,
	}
	o.coll.RecordJobStarted()
	log.Info("Job created", "job_id", job.JobID, "correlation_id", job.CorrelationID)
	return job
}

// countParts 依淨重與單件重量計算數量，並判定是否在允差內
// actual = floor(net / partWeight)；|actual - target| ≤ tolerance 為合格
func countParts(netWeight, partWeight float64, target, tolerance int) (actual int, ok bool) {
	if partWeight <= 0 {
		return 0, false
	}
	actual = int(math.Floor(netWeight / partWeight))
	diff := actual - target
	if diff < 0 {
		diff = -diff
	}
	return actual, diff <= tolerance
}
