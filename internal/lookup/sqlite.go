package lookup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// SQLiteStore 以 SQLite 實作 Store 介面
//
// 零件表與料箱表都是小型、低頻查詢的參照資料，SQLite 單檔即可；
// 表名與鍵欄位來自設定檔，不來自訊息內容。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite 開啟 SQLite 資料庫檔案
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// FindByKey 查詢單筆記錄
func (s *SQLiteStore) FindByKey(ctx context.Context, table, keyColumn, keyValue string) (types.Record, error) {
	// 表名與欄位名無法參數化，只能以識別字引號包覆
	query := fmt.Sprintf(`SELECT * FROM %s WHERE %s = ? LIMIT 1`,
		quoteIdent(table), quoteIdent(keyColumn))

	rows, err := s.db.QueryContext(ctx, query, keyValue)
	if err != nil {
		return nil, fmt.Errorf("lookup query failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("lookup scan failed: %w", err)
		}
		return nil, ErrNotFound
	}

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("lookup columns failed: %w", err)
	}

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("lookup scan failed: %w", err)
	}

	rec := make(types.Record, len(cols))
	for i, col := range cols {
		v := values[i]
		// sqlite3 驅動以 []byte 回傳 TEXT，統一轉成字串
		if b, ok := v.([]byte); ok {
			rec[col] = string(b)
		} else {
			rec[col] = v
		}
	}
	return rec, nil
}

// Close 關閉資料庫連線
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// quoteIdent 以雙引號包覆識別字，內部雙引號加倍
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
