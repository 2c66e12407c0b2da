// ============================================================================
// Bin-Workflow 訊息路由器 - 入站訊息的解析、過濾與分發
// ============================================================================
//
// Package: internal/workflow
// 文件: router.go
// 功能: 把入站主題 + 載荷分類為設備資料 / 設備狀態 / 設備錯誤 /
//       控制命令，過濾後分發到狀態機
//
// 過濾規則（依序）:
//   1. 載荷無法解碼 → 記錄並丟棄，不影響狀態
//   2. 設備資料帶 correlation_id 且與目前工單不符 → 警告後丟棄
//      （處理設備尚未收到停止命令時送出的過期訊息）
//   3. 設備類別與目前狀態等待的設備不符 → 靜默忽略（不是錯誤，
//      只是無關）。例外：Idle 與 JobCloseout 額外監聽磅秤資料
//      （自動開工、離秤偵測）
//   4. 設備錯誤訊息不過濾：無論目前狀態一律強制轉換到 Error
//
// ============================================================================

package workflow

import (
	"encoding/json"
	"strings"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// route 匯流排回呼入口：解析主題並分發
// 在匯流排的回呼 goroutine 上執行，實際處理排入排程器事件迴圈
func (o *Orchestrator) route(topic string, payload []byte) {
	rel := strings.TrimPrefix(topic, o.cfg.TopicRoot+"/")
	if rel == topic {
		return // 不在本命名空間下
	}
	parts := strings.Split(rel, "/")

	// {root}/workflow/cmd/{command}
	if len(parts) == 3 && parts[0] == "workflow" && parts[1] == "cmd" {
		o.handleControl(parts[2], payload)
		return
	}

	// {root}/{device_type}/{device_id}/{data|status|error}
	if len(parts) != 3 {
		return
	}
	deviceType, kind := parts[0], parts[2]
	if deviceType == "workflow" {
		return // 自己發布的狀態事件
	}

	switch kind {
	case "data":
		var msg types.DeviceData
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Error("Malformed device data dropped", "topic", topic, "error", err)
			o.coll.RecordDropped("malformed")
			return
		}
		o.sched.Dispatch(func() { o.handleDeviceData(deviceType, &msg) })

	case "status":
		var msg types.DeviceStatus
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Error("Malformed device status dropped", "topic", topic, "error", err)
			o.coll.RecordDropped("malformed")
			return
		}
		// 狀態訊息只記錄，不影響狀態機
		log.Info("Device status", "device_id", msg.DeviceID, "status", msg.Status)

	case "error":
		var msg types.DeviceError
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Error("Malformed device error dropped", "topic", topic, "error", err)
			o.coll.RecordDropped("malformed")
			return
		}
		log.Error("Device reported error", "device_id", msg.DeviceID, "error_msg", msg.ErrorMsg)
		o.sched.Force(types.StateError, "device "+msg.DeviceID+": "+msg.ErrorMsg)
	}
}

// handleDeviceData 設備資料分發（事件迴圈上執行）
func (o *Orchestrator) handleDeviceData(deviceType string, msg *types.DeviceData) {
	// 關聯過濾：帶 correlation_id 的訊息必須屬於目前工單
	if msg.CorrelationID != "" {
		if o.job == nil || msg.CorrelationID != o.job.CorrelationID {
			log.Warn("Stale device data dropped",
				"device_id", msg.DeviceID, "correlation_id", msg.CorrelationID)
			o.coll.RecordDropped("stale_correlation")
			return
		}
	}

	state := o.sched.State()
	switch deviceType {
	case "qr":
		if state != types.StateJobAllocation {
			o.coll.RecordDropped("wrong_state")
			return
		}
		o.handleQRData(msg)

	case "rfid":
		if state != types.StateWaitingRfid {
			o.coll.RecordDropped("wrong_state")
			return
		}
		o.handleRfidData(msg)

	case "scale":
		// 磅秤資料在三個狀態有意義：等重、閒置自動開工、離秤偵測
		switch state {
		case types.StateWaitingWeight:
			o.handleWeightData(msg)
		case types.StateIdle:
			o.handleIdleWeight(msg)
		case types.StateJobCloseout:
			o.handleRemovalWeight(msg)
		default:
			o.coll.RecordDropped("wrong_state")
		}

	default:
		o.coll.RecordDropped("unknown_device")
	}
}

// ============================================================================
// 控制命令
// ============================================================================

// handleControl 控制面命令：abort_job / get_status / set_devices / start_job
func (o *Orchestrator) handleControl(command string, payload []byte) {
	log.Info("Control command received", "command", command)

	switch command {
	case "abort_job":
		o.sched.Force(types.StateError, "job aborted by operator")

	case "get_status":
		o.sched.Dispatch(func() { o.publishStatus() })

	case "set_devices":
		var devices map[types.DeviceRole]string
		if err := json.Unmarshal(payload, &devices); err != nil {
			log.Error("Malformed set_devices payload", "error", err)
			o.coll.RecordDropped("malformed")
			return
		}
		o.gw.Registry().Update(devices)
		log.Info("Device registry updated", "devices", devices)

	case "start_job":
		// 手動開工：等同閒置時偵測到料箱上秤
		o.sched.Dispatch(func() {
			if o.sched.State() != types.StateIdle || o.job != nil {
				log.Warn("start_job ignored, workflow not idle")
				return
			}
			o.job = o.newJob()
			o.sched.Request(types.StateJobAllocation, "manual start")
		})

	default:
		log.Warn("Unknown control command ignored", "command", command)
	}
}
