// ============================================================================
// Bin-Workflow Lookup Store
// ============================================================================
//
// Package: internal/lookup
// File: lookup.go
// Purpose: Key→record lookup boundary for the part and bin databases.
//
// The orchestrator consumes exactly one operation from the relational
// store: find a single row by key column. Two implementations:
//   - SQLiteStore (sqlite.go): production lookup over database/sql.
//   - StaticStore (static.go): fixed in-memory tables for tests and demo.
//
// Lookup failures of any kind (connection errors included) must be treated
// as a miss by callers; the orchestrator never lets a lookup failure
// propagate past the state-entry action that issued it.
//
// ============================================================================

package lookup

import (
	"context"
	"errors"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// ErrNotFound 查無符合鍵值的記錄
var ErrNotFound = errors.New("record not found")

// Store 單行鍵值查詢介面
type Store interface {
	// FindByKey 依鍵欄位查詢單筆記錄
	//
	// 參數：
	//   - table: 資料表名稱
	//   - keyColumn: 鍵欄位名稱
	//   - keyValue: 鍵值
	//
	// 返回值：
	//   - types.Record: 欄位名 → 值
	//   - error: 查無資料時回傳 ErrNotFound
	FindByKey(ctx context.Context, table, keyColumn, keyValue string) (types.Record, error)
}
