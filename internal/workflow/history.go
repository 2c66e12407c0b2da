package workflow

import (
	"sync"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// History 完成工單的記憶體內歸檔
//
// 固定容量的環狀緩衝：超過上限時淘汰最舊的一筆。
// 只保留行程存活期間的紀錄，持久化由外部訂閱 job_complete 事件處理。
type History struct {
	mu    sync.Mutex
	limit int
	jobs  []types.JobContext
}

// NewHistory 建立歸檔，limit 為保留筆數上限
func NewHistory(limit int) *History {
	return &History{limit: limit}
}

// Add 歸檔一筆完成的工單
func (h *History) Add(job types.JobContext) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job)
	if len(h.jobs) > h.limit {
		h.jobs = h.jobs[len(h.jobs)-h.limit:]
	}
}

// Len 回傳目前歸檔筆數
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.jobs)
}

// Snapshot 回傳歸檔副本，最舊在前
func (h *History) Snapshot() []types.JobContext {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]types.JobContext, len(h.jobs))
	copy(out, h.jobs)
	return out
}
