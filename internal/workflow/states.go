// ============================================================================
// Bin-Workflow 狀態機核心 - 進入動作與事件處理
// ============================================================================
//
// Package: internal/workflow
// 文件: states.go
// 功能: 定義每個狀態的進入動作與相關事件的處理規則
//
// 所有函式都在排程器事件迴圈上執行，可以直接讀寫 o.job 並
// 再次請求轉換。
//
// 狀態 → 進入動作:
//   Idle          啟動磅秤監測，等待料箱上秤自動開工
//   JobAllocation 啟動 QR 掃描，等待零件條碼
//   WaitingRfid   啟動 RFID 輪詢，等待料箱標籤
//   WaitingWeight 啟動磅秤監測，等待穩定秤重
//   Verification  同步計算數量並比對目標（不等外部事件）
//   JobCloseout   解除逾時，再次監測磅秤等待離秤
//   Dispatch      列印標籤、歸檔工單、清空後回到 Idle
//   Error         記錄錯誤、停止所有設備、丟棄工單、回到 Idle
//
// ============================================================================

package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/ChuLiYu/bin-workflow/internal/lookup"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// enterState 狀態進入動作分發表
func (o *Orchestrator) enterState(state types.WorkflowState, reason string) {
	switch state {
	case types.StateIdle:
		o.enterIdle()
	case types.StateJobAllocation:
		o.enterJobAllocation()
	case types.StateWaitingRfid:
		o.enterWaitingRfid()
	case types.StateWaitingWeight:
		o.enterWaitingWeight()
	case types.StateVerification:
		o.enterVerification()
	case types.StateJobCloseout:
		o.enterJobCloseout()
	case types.StateDispatch:
		o.enterDispatch()
	case types.StateError:
		o.enterError(reason)
	}
}

// ============================================================================
// Idle：等待料箱上秤
// ============================================================================

func (o *Orchestrator) enterIdle() {
	o.gw.SendCommand(types.RoleScale, "start_monitoring", nil)
}

// handleIdleWeight 閒置時的磅秤資料：穩定且超過門檻即自動開工
func (o *Orchestrator) handleIdleWeight(msg *types.DeviceData) {
	if !msg.Stable || msg.Weight < o.cfg.AutoStartThreshold {
		return
	}
	if o.job != nil {
		return // 已有進行中的工單
	}

	log.Info("Loaded bin detected, starting job", "weight", msg.Weight)
	o.job = o.newJob()
	o.sched.Request(types.StateJobAllocation, "bin placed on scale")
}

// ============================================================================
// JobAllocation：等待 QR 掃描
// ============================================================================

func (o *Orchestrator) enterJobAllocation() {
	o.gw.SendCommand(types.RoleQRScanner, "start_scan", nil)
}

// handleQRData 零件條碼掃描結果：查詢零件資料並分配工單
func (o *Orchestrator) handleQRData(msg *types.DeviceData) {
	if msg.QRCode == "" || o.job == nil {
		return
	}
	o.gw.SendCommand(types.RoleQRScanner, "stop_scan", nil)

	rec, err := o.findRecord(o.cfg.PartTable, o.cfg.PartKeyColumn, msg.QRCode)
	if err != nil {
		// 零件查無資料是致命錯誤：沒有目標數量就無法驗證
		log.Error("Part lookup failed", "part_number", msg.QRCode, "error", err)
		o.publishAck("job_allocation", false, types.Record{
			"part_number": msg.QRCode,
			"reason":      "part not found",
		})
		o.sched.Force(types.StateError, "part not found: "+msg.QRCode)
		return
	}

	o.job.PartNumber = msg.QRCode
	o.job.PartDetails = rec
	o.job.TargetCount, _ = rec.Int(types.PartKeyBinQty)

	log.Info("Part allocated",
		"part_number", msg.QRCode, "target_count", o.job.TargetCount)

	o.publishAck("job_allocation", true, types.Record{
		"part_number":  o.job.PartNumber,
		"part_name":    rec.String(types.PartKeyName),
		"target_count": o.job.TargetCount,
	})
	o.sched.Request(types.StateWaitingRfid, "part allocated")
}

// ============================================================================
// WaitingRfid：等待料箱標籤
// ============================================================================

func (o *Orchestrator) enterWaitingRfid() {
	o.gw.SendCommand(types.RoleRFIDReader, "start_polling", nil)
}

// handleRfidData 料箱標籤讀取：EPC 只設定一次，後續讀取忽略
func (o *Orchestrator) handleRfidData(msg *types.DeviceData) {
	if msg.Epc == "" || o.job == nil {
		return
	}
	if o.job.RfidEpc != "" {
		// 重複讀取保護：第一筆有效讀取已定案
		log.Debug("Duplicate RFID read ignored", "epc", msg.Epc)
		return
	}

	o.job.RfidEpc = msg.Epc

	rec, err := o.findRecord(o.cfg.BinTable, o.cfg.BinKeyColumn, msg.Epc)
	if err != nil {
		// 料箱查無資料容許：空箱重量以 0 計，記錄但不中斷
		log.Warn("Bin lookup miss, empty weight defaults to zero", "epc", msg.Epc)
		o.job.EmptyBinWeight = 0
		o.job.RecordError("bin not found for epc " + msg.Epc)
	} else {
		o.job.EmptyBinWeight, _ = rec.Float(types.BinKeyEmptyWeight)
	}

	log.Info("Bin identified",
		"epc", o.job.RfidEpc, "empty_bin_weight", o.job.EmptyBinWeight)

	o.gw.SendCommand(types.RoleRFIDReader, "stop_polling", nil)
	o.sched.Request(types.StateWaitingWeight, "bin identified")
}

// ============================================================================
// WaitingWeight：等待穩定秤重
// ============================================================================

func (o *Orchestrator) enterWaitingWeight() {
	o.gw.SendCommand(types.RoleScale, "start_monitoring", nil)
}

// handleWeightData 秤重結果：只接受穩定讀數
func (o *Orchestrator) handleWeightData(msg *types.DeviceData) {
	if !msg.Stable || o.job == nil {
		return
	}

	o.job.GrossWeight = msg.Weight
	if msg.NetWeight != nil {
		o.job.NetWeight = *msg.NetWeight
	} else {
		o.job.NetWeight = msg.Weight - o.job.EmptyBinWeight
	}
	if o.job.NetWeight < 0 {
		o.job.NetWeight = 0
	}

	log.Info("Stable weight recorded",
		"gross_weight", o.job.GrossWeight, "net_weight", o.job.NetWeight)

	o.gw.SendCommand(types.RoleScale, "stop_monitoring", nil)
	o.sched.Request(types.StateVerification, "stable weight recorded")
}

// ============================================================================
// Verification：數量驗證（同步，不等外部事件）
// ============================================================================

func (o *Orchestrator) enterVerification() {
	if o.job == nil {
		o.sched.Force(types.StateError, "verification without active job")
		return
	}

	// 沒有零件資料就沒有可驗證的目標，直接結單
	if o.job.PartDetails == nil {
		log.Warn("No part details, skipping count verification", "job_id", o.job.JobID)
		o.sched.Request(types.StateJobCloseout, "verification skipped")
		return
	}

	partWeight, _ := o.job.PartDetails.Float(types.PartKeyWeight)
	tolerance, _ := o.job.PartDetails.Int(types.PartKeyTolerance)

	o.job.ActualCount, o.job.CountOK = countParts(
		o.job.NetWeight, partWeight, o.job.TargetCount, tolerance)

	if !o.job.CountOK {
		o.coll.RecordCountMismatch()
		log.Warn("Count verification failed",
			"actual_count", o.job.ActualCount,
			"target_count", o.job.TargetCount,
			"tolerance", tolerance)
	} else {
		log.Info("Count verified",
			"actual_count", o.job.ActualCount, "target_count", o.job.TargetCount)
	}

	o.publishAck("verification", o.job.CountOK, types.Record{
		"part_number":  o.job.PartNumber,
		"net_weight":   o.job.NetWeight,
		"actual_count": o.job.ActualCount,
		"target_count": o.job.TargetCount,
		"tolerance":    tolerance,
		"count_ok":     o.job.CountOK,
	})
	o.sched.Request(types.StateJobCloseout, "verification complete")
}

// ============================================================================
// JobCloseout：等待料箱離秤
// ============================================================================

func (o *Orchestrator) enterJobCloseout() {
	// 離秤沒有硬性時限，明確解除逾時（onEnter 已解除，這裡是保險語義的落點）
	o.sup.Disarm()

	if o.job != nil {
		o.job.LoadedBinWeight = o.job.GrossWeight
	}

	o.publishAck("job_closeout", true, types.Record{})
	o.gw.SendCommand(types.RoleScale, "start_monitoring", nil)
}

// handleRemovalWeight 離秤偵測：穩定讀數低於滿箱重量的設定比例即視為已取走
func (o *Orchestrator) handleRemovalWeight(msg *types.DeviceData) {
	if !msg.Stable || o.job == nil {
		return
	}

	limit := o.job.LoadedBinWeight * o.cfg.RemovalFraction
	if msg.Weight >= limit {
		log.Debug("Bin still on scale", "weight", msg.Weight, "removal_limit", limit)
		return
	}

	log.Info("Bin removed from scale", "weight", msg.Weight)
	o.gw.SendCommand(types.RoleScale, "stop_monitoring", nil)
	o.sched.Request(types.StateDispatch, "bin removed")
}

// ============================================================================
// Dispatch：出貨與歸檔
// ============================================================================

func (o *Orchestrator) enterDispatch() {
	if o.job != nil {
		// 印表機為選配角色，未設定時 SendCommand 自行略過
		o.gw.SendCommand(types.RolePrinter, "print_label", map[string]interface{}{
			"job_id":       o.job.JobID,
			"part_number":  o.job.PartNumber,
			"part_name":    o.job.PartDetails.String(types.PartKeyName),
			"actual_count": o.job.ActualCount,
		})

		now := time.Now()
		o.job.CompletedAt = &now

		o.publishAck("dispatch", true, types.Record{
			"job_id":       o.job.JobID,
			"part_number":  o.job.PartNumber,
			"actual_count": o.job.ActualCount,
			"count_ok":     o.job.CountOK,
		})
		o.publishJobComplete(o.job)

		o.history.Add(*o.job)
		o.coll.RecordJobCompleted(now.Sub(o.job.StartedAt).Seconds())
		log.Info("Job completed",
			"job_id", o.job.JobID, "duration", now.Sub(o.job.StartedAt))

		o.job = nil
	}

	o.sched.Request(types.StateIdle, "job dispatched")
}

// ============================================================================
// Error：集中錯誤處理
// ============================================================================

func (o *Orchestrator) enterError(reason string) {
	log.Error("Workflow entered error state", "reason", reason)

	var jobID string
	if o.job != nil {
		o.job.RecordError(reason)
		jobID = o.job.JobID
		o.coll.RecordJobFailed()
	}

	o.publishError(reason, jobID)
	o.gw.StopAll()
	o.job = nil

	o.sched.Request(types.StateIdle, "error recovered")
}

// ============================================================================
// 查詢服務
// ============================================================================

// findRecord 查詢服務的統一入口
// 任何查詢失敗（含傳輸錯誤）一律視為查無資料
func (o *Orchestrator) findRecord(table, keyColumn, keyValue string) (types.Record, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := o.store.FindByKey(ctx, table, keyColumn, keyValue)
	if err != nil {
		if !errors.Is(err, lookup.ErrNotFound) {
			log.Error("Lookup failed, treating as miss",
				"table", table, "key", keyValue, "error", err)
		}
		return nil, lookup.ErrNotFound
	}
	return rec, nil
}
