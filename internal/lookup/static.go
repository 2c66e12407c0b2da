package lookup

import (
	"context"
	"sync"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// StaticStore 固定表格的記憶體查詢實作，測試與 demo 使用
type StaticStore struct {
	mu     sync.RWMutex
	tables map[string][]types.Record // 表名 → 記錄列表
}

// NewStaticStore 建立空的靜態查詢存放區
func NewStaticStore() *StaticStore {
	return &StaticStore{tables: make(map[string][]types.Record)}
}

// Add 在指定資料表加入一筆記錄
func (s *StaticStore) Add(table string, rec types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rec)
}

// FindByKey 線性掃描指定資料表，比對鍵欄位的字串值
func (s *StaticStore) FindByKey(_ context.Context, table, keyColumn, keyValue string) (types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.tables[table] {
		if rec.String(keyColumn) == keyValue {
			// 回傳副本，避免呼叫端改動共享記錄
			out := make(types.Record, len(rec))
			for k, v := range rec {
				out[k] = v
			}
			return out, nil
		}
	}
	return nil, ErrNotFound
}
