// Package types 定義了 bin-workflow 系統中使用的核心領域模型
package types

import (
	"time"
)

// WorkflowState 工作流程狀態
type WorkflowState string

// 定義工作流程狀態常數
// 狀態機循環：Idle → JobAllocation → WaitingRfid → WaitingWeight →
// Verification → JobCloseout → Dispatch → Idle，任何狀態 → Error → Idle
const (
	StateIdle          WorkflowState = "idle"           // 閒置：監測磅秤，等待料箱上秤自動開工
	StateJobAllocation WorkflowState = "job_allocation" // 工單分配：等待 QR code 掃描
	StateWaitingRfid   WorkflowState = "waiting_rfid"   // 等待 RFID：輪詢料箱標籤
	StateWaitingWeight WorkflowState = "waiting_weight" // 等待重量：等待穩定秤重
	StateVerification  WorkflowState = "verification"   // 驗證：計算數量並比對目標
	StateJobCloseout   WorkflowState = "job_closeout"   // 結單：等待料箱離秤
	StateDispatch      WorkflowState = "dispatch"       // 出貨：列印標籤並歸檔工單
	StateError         WorkflowState = "error"          // 錯誤：停止所有設備並回到閒置
)

// DeviceRole 邏輯設備角色，對應到具體設備 ID 由 DeviceRegistry 管理
type DeviceRole string

// 定義設備角色常數
const (
	RoleQRScanner  DeviceRole = "qr_scanner"
	RoleRFIDReader DeviceRole = "rfid_reader"
	RoleScale      DeviceRole = "scale"
	RolePrinter    DeviceRole = "printer"
)

// AllRoles 所有已定義的設備角色（全體停止命令使用）
var AllRoles = []DeviceRole{RoleQRScanner, RoleRFIDReader, RoleScale, RolePrinter}

// DeviceType 回傳角色在主題中使用的設備類別字串
// 主題格式：factory/{device_type}/{device_id}/...
func (r DeviceRole) DeviceType() string {
	switch r {
	case RoleQRScanner:
		return "qr"
	case RoleRFIDReader:
		return "rfid"
	case RoleScale:
		return "scale"
	case RolePrinter:
		return "printer"
	}
	return string(r)
}

// StopCommand 回傳角色對應的停止命令（錯誤或中止時對每個設備發送）
// 印表機等一次性設備沒有長駐動作，停止命令為空字串
func (r DeviceRole) StopCommand() string {
	switch r {
	case RoleQRScanner:
		return "stop_scan"
	case RoleRFIDReader:
		return "stop_polling"
	case RoleScale:
		return "stop_monitoring"
	}
	return ""
}

// Record 查詢服務回傳的不透明鍵值記錄（欄位名 → 值）
type Record map[string]interface{}

// JobContext 單一進行中工單的完整資料
//
// 不變量：系統中同時最多只有一個存活的 JobContext（單工單設計）。
// 所有欄位只能在轉換鎖之下由狀態進入動作或事件處理器修改。
type JobContext struct {
	JobID         string `json:"job_id"`         // 流程唯一、人類可讀的工單編號
	CorrelationID string `json:"correlation_id"` // 綁定本工單所有訊息的關聯識別碼

	PartNumber  string `json:"part_number,omitempty"`  // 掃描到的零件編號
	PartDetails Record `json:"part_details,omitempty"` // 查詢服務回傳的零件記錄

	RfidEpc string `json:"rfid_epc,omitempty"` // 料箱 RFID 標籤 EPC，每個工單最多設定一次

	EmptyBinWeight  float64 `json:"empty_bin_weight"`  // 空箱重量（kg）
	GrossWeight     float64 `json:"gross_weight"`      // 毛重（kg）
	LoadedBinWeight float64 `json:"loaded_bin_weight"` // 結單時記下的滿箱重量（kg），離秤偵測用
	NetWeight       float64 `json:"net_weight"`        // 淨重（kg）

	TargetCount int  `json:"target_count"` // 目標數量
	ActualCount int  `json:"actual_count"` // 實際計算數量
	CountOK     bool `json:"count_ok"`     // 數量是否在允差內

	StartedAt   time.Time  `json:"started_at"`             // 工單開始時間
	CompletedAt *time.Time `json:"completed_at,omitempty"` // 工單完成時間

	Errors []string `json:"errors"` // 工單生命週期中累積的錯誤訊息（只增不減）
}

// RecordError 將錯誤訊息附加到工單的錯誤列表
func (j *JobContext) RecordError(msg string) {
	j.Errors = append(j.Errors, msg)
}

// 零件記錄欄位名稱（沿用既有零件資料庫結構）
const (
	PartKeyNumber    = "PART NUMBER"
	PartKeyName      = "PART NAME"
	PartKeyWeight    = "PART WEIGHT"        // 單件重量（kg）
	PartKeyBinQty    = "BIN QTY"            // 每箱目標數量
	PartKeyTolerance = "COVR QTY VARIATION" // 數量允差
)

// 料箱記錄欄位名稱
const (
	BinKeyEpc         = "epc"
	BinKeyEmptyWeight = "empty_bin_weight"
)
