// ============================================================================
// Bin-Workflow 逾時監督器 - 有時限狀態的看門狗
// ============================================================================
//
// Package: internal/scheduler
// 文件: timeout.go
// 功能: 監看目前武裝的時限，到期時回報給協調器
//
// 採輪詢而非事件驅動：固定週期的 ticker 檢查「武裝中的狀態是否超過
// 截止時間」。輪詢讓武裝/解除只是改兩個欄位，沒有計時器生命週期要
// 管理；代價是最多一個輪詢週期的偵測延遲，對秒級的逾時而言可忽略。
//
// ============================================================================

package scheduler

import (
	"sync"
	"time"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// ExpireFunc 逾時回呼：回報逾時的狀態與武裝時設定的時限
type ExpireFunc func(state types.WorkflowState, limit time.Duration)

// Supervisor 逾時監督器
// 同一時間至多武裝一個時限，進入新狀態時先解除再武裝
type Supervisor struct {
	mu       sync.Mutex
	armed    bool
	state    types.WorkflowState
	limit    time.Duration
	deadline time.Time

	interval time.Duration
	onExpire ExpireFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSupervisor 建立逾時監督器
// interval 為輪詢週期，給 0 時使用預設 250ms
func NewSupervisor(interval time.Duration, onExpire ExpireFunc) *Supervisor {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Supervisor{
		interval: interval,
		onExpire: onExpire,
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動輪詢迴圈
func (sv *Supervisor) Start() {
	sv.wg.Add(1)
	go sv.pollLoop()
}

// Stop 停止輪詢迴圈
func (sv *Supervisor) Stop() {
	close(sv.stopCh)
	sv.wg.Wait()
}

// Arm 武裝時限：state 停留超過 limit 即觸發逾時回呼
// 會先解除先前的時限
func (sv *Supervisor) Arm(state types.WorkflowState, limit time.Duration) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.armed = true
	sv.state = state
	sv.limit = limit
	sv.deadline = time.Now().Add(limit)
}

// Disarm 解除目前武裝的時限
func (sv *Supervisor) Disarm() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.armed = false
}

func (sv *Supervisor) pollLoop() {
	defer sv.wg.Done()

	ticker := time.NewTicker(sv.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sv.stopCh:
			return
		case <-ticker.C:
			sv.check()
		}
	}
}

func (sv *Supervisor) check() {
	sv.mu.Lock()
	if !sv.armed || time.Now().Before(sv.deadline) {
		sv.mu.Unlock()
		return
	}
	// 先解除再回呼，回呼觸發的轉換會重新武裝
	sv.armed = false
	state := sv.state
	limit := sv.limit
	sv.mu.Unlock()

	log.Warn("State timeout exceeded", "state", state, "limit", limit)
	sv.onExpire(state, limit)
}
