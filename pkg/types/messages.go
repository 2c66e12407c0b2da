package types

import (
	"strconv"
	"time"
)

// ============================================================================
// MQTT 訊息結構
// ============================================================================
//
// 主題結構：
//   factory/{device_type}/{device_id}/data     設備遙測
//   factory/{device_type}/{device_id}/status   設備狀態
//   factory/{device_type}/{device_id}/error    設備錯誤
//   factory/{device_type}/{device_id}/cmd/{command}  協調器 → 設備命令
//   factory/workflow/status | ack | job_complete | error  協調器 → 外部
//   factory/workflow/cmd/{command}             控制面 → 協調器
//
// 所有欄位名稱沿用既有各設備服務的 JSON 結構。
// ============================================================================

// DeviceData 設備遙測訊息（QR / RFID / 磅秤共用信封，依類型填入對應欄位）
type DeviceData struct {
	MsgType       string `json:"msg_type"`
	Timestamp     string `json:"timestamp,omitempty"`
	DeviceID      string `json:"device_id"`
	CorrelationID string `json:"correlation_id,omitempty"`

	// QR 掃描器
	QRCode string `json:"qr_code,omitempty"`

	// RFID 讀取器
	Epc      string `json:"epc,omitempty"`
	Rssi     int    `json:"rssi,omitempty"`
	Antenna  int    `json:"antenna,omitempty"`
	Location string `json:"location,omitempty"`
	Count    int    `json:"count,omitempty"`

	// 磅秤
	Weight     float64  `json:"weight,omitempty"`
	Unit       string   `json:"unit,omitempty"`
	Stable     bool     `json:"stable,omitempty"`
	TareWeight *float64 `json:"tare_weight,omitempty"`
	NetWeight  *float64 `json:"net_weight,omitempty"` // 由磅秤服務於上游計算
}

// DeviceStatus 設備狀態訊息
type DeviceStatus struct {
	MsgType  string `json:"msg_type"`
	DeviceID string `json:"device_id"`
	Status   string `json:"status"`
	Details  Record `json:"details,omitempty"`
}

// DeviceError 設備錯誤訊息
type DeviceError struct {
	MsgType  string `json:"msg_type"`
	DeviceID string `json:"device_id"`
	ErrorMsg string `json:"error_msg"`
}

// WorkflowStatus 工作流程狀態事件（factory/workflow/status）
type WorkflowStatus struct {
	MsgType   string        `json:"msg_type"`
	Timestamp string        `json:"timestamp"`
	State     WorkflowState `json:"state"`
	JobID     string        `json:"job_id,omitempty"`
}

// TaskAck 任務確認事件（factory/workflow/ack）
type TaskAck struct {
	Task      string `json:"task"`
	Success   bool   `json:"success"`
	Data      Record `json:"data"`
	JobID     string `json:"job_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// WorkflowError 工作流程錯誤事件（factory/workflow/error）
type WorkflowError struct {
	MsgType   string `json:"msg_type"`
	Timestamp string `json:"timestamp"`
	ErrorMsg  string `json:"error_msg"`
	JobID     string `json:"job_id,omitempty"`
}

// Now 回傳 ISO-8601 格式的當前時間字串，所有對外訊息共用
func Now() string {
	return time.Now().Format(time.RFC3339)
}

// ============================================================================
// Record 取值輔助
// ============================================================================
//
// 查詢服務與 JSON 解碼回傳的數值型別不固定（int64、float64、字串都有可能），
// 這裡統一轉換。

// Float 以浮點數讀取欄位，不存在或無法轉換時回傳 ok=false
func (r Record) Float(key string) (float64, bool) {
	v, exists := r[key]
	if !exists || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Int 以整數讀取欄位（浮點值截斷），不存在或無法轉換時回傳 ok=false
func (r Record) Int(key string) (int, bool) {
	f, ok := r.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// String 以字串讀取欄位，不存在時回傳空字串
func (r Record) String(key string) string {
	v, exists := r[key]
	if !exists || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
