// ============================================================================
// Bin-Workflow 轉換排程器 - 狀態機的單一真實來源
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 持有「目前狀態」，序列化所有狀態變更，並落實每個狀態的最短停留時間
//
// 設計理念:
//   每個狀態帶有最短停留時間（dwell），讓人機介面上的狀態顯示不會一閃而過；
//   同時事件驅動的流程又可能希望立刻前進。兩者的仲裁規則：
//   1. elapsed ≥ min_dwell → 立即執行轉換
//   2. elapsed < min_dwell → 排定一次性計時器，補足剩餘停留時間後執行
//   3. 計時器到期前若有新的轉換請求，新請求獲勝：舊計時器作廢
//   4. 強制轉換（Error 等緊急情況）完全跳過停留檢查
//
// 並發模型:
//   採單一消費者事件迴圈：所有轉換請求、入站訊息處理、計時器到期都排入
//   同一個佇列，由專屬 goroutine 依序執行。進入動作在迴圈 goroutine 上
//   執行，因此可以安全地再次請求轉換（重入需求），不會自我死鎖。
//
// 取消語義:
//   排定延遲轉換時配發一個世代令牌；新的請求使舊令牌作廢。計時器到期
//   的執行會先驗證令牌，作廢的到期事件直接丟棄，所以計時器可以被取消
//   任意多次、到期執行是冪等安全的。
//
// ============================================================================

package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

var log = slog.Default()

// EntryFunc 狀態進入回呼：每次轉換執行後呼叫一次
// 在事件迴圈 goroutine 上執行，可以安全呼叫 Request/Force
type EntryFunc func(from, to types.WorkflowState, reason string)

type request struct {
	target types.WorkflowState
	reason string
	forced bool
}

// Scheduler 轉換排程器
type Scheduler struct {
	mu sync.Mutex

	state     types.WorkflowState
	enteredAt time.Time

	dwell   map[types.WorkflowState]time.Duration
	onEnter EntryFunc

	// 事件佇列（無上限：入列永不阻塞，避免迴圈內入列造成死鎖）
	queue []func()
	wake  chan struct{}

	// 延遲轉換簿記
	pendingTimer *time.Timer
	pendingToken uint64
	tokenSeq     uint64

	stopCh   chan struct{}
	loopDone chan struct{}
	stopped  bool
}

// New 建立轉換排程器
//
// 參數：
//   - initial: 初始狀態（不觸發進入動作；啟動時由呼叫端 Force 觸發）
//   - dwell: 各狀態的最短停留時間，未列出的狀態視為 0
//   - onEnter: 狀態進入回呼
func New(initial types.WorkflowState, dwell map[types.WorkflowState]time.Duration, onEnter EntryFunc) *Scheduler {
	return &Scheduler{
		state:     initial,
		enteredAt: time.Now(),
		dwell:     dwell,
		onEnter:   onEnter,
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		loopDone:  make(chan struct{}),
	}
}

// Start 啟動事件迴圈
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop 停止事件迴圈，等待當前項目執行完畢
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.loopDone
}

// Request 請求轉換到指定狀態（受最短停留時間約束）
func (s *Scheduler) Request(target types.WorkflowState, reason string) {
	s.enqueue(func() { s.process(request{target: target, reason: reason}) })
}

// Force 強制轉換（跳過停留檢查，Error 等緊急情況使用）
func (s *Scheduler) Force(target types.WorkflowState, reason string) {
	s.enqueue(func() { s.process(request{target: target, reason: reason, forced: true}) })
}

// Dispatch 把一段狀態相關的工作排入事件迴圈執行
// 入站訊息處理器經由這裡存取與修改工單資料，與轉換天然序列化
func (s *Scheduler) Dispatch(fn func()) {
	s.enqueue(fn)
}

// Sync 排入工作並等待它執行完成（快照讀取使用）
// 不可在事件迴圈內呼叫
func (s *Scheduler) Sync(fn func()) {
	done := make(chan struct{})
	s.enqueue(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-s.stopCh:
	}
}

// State 回傳目前狀態
func (s *Scheduler) State() types.WorkflowState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EnteredAt 回傳目前狀態的進入時間
func (s *Scheduler) EnteredAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enteredAt
}

// ============================================================================
// 事件迴圈
// ============================================================================

func (s *Scheduler) enqueue(fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			s.drain()
		}
	}
}

// drain 依序執行佇列中的所有項目
// 項目執行期間不持鎖，項目本身可以再入列（重入）
func (s *Scheduler) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// ============================================================================
// 轉換處理（皆在事件迴圈 goroutine 上執行）
// ============================================================================

func (s *Scheduler) process(r request) {
	s.mu.Lock()

	// 最新請求獲勝：先作廢任何已排定的延遲轉換
	s.invalidatePendingLocked()

	var delay time.Duration
	if !r.forced {
		if min := s.dwell[s.state]; min > 0 {
			if elapsed := time.Since(s.enteredAt); elapsed < min {
				delay = min - elapsed
			}
		}
	}

	if delay > 0 {
		s.tokenSeq++
		token := s.tokenSeq
		s.pendingToken = token
		s.pendingTimer = time.AfterFunc(delay, func() {
			s.enqueue(func() { s.fire(token, r) })
		})
		s.mu.Unlock()

		log.Debug("Transition delayed by dwell",
			"target", r.target, "delay", delay)
		return
	}

	s.mu.Unlock()
	s.execute(r)
}

// fire 延遲轉換到期執行，令牌不符表示已被較新的請求取代
func (s *Scheduler) fire(token uint64, r request) {
	s.mu.Lock()
	if token != s.pendingToken {
		s.mu.Unlock()
		return
	}
	s.pendingToken = 0
	s.pendingTimer = nil
	s.mu.Unlock()

	s.execute(r)
}

func (s *Scheduler) execute(r request) {
	s.mu.Lock()
	from := s.state
	s.state = r.target
	s.enteredAt = time.Now()
	s.mu.Unlock()

	log.Info("State transition",
		"from", from, "to", r.target, "reason", r.reason)

	s.onEnter(from, r.target, r.reason)
}

func (s *Scheduler) invalidatePendingLocked() {
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
		s.pendingTimer = nil
	}
	s.pendingToken = 0
}
