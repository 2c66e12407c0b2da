// ============================================================================
// Bin-Workflow 整合測試套件
// ============================================================================
//
// Package: test/integration
// 文件: workflow_test.go
// 功能: 端到端工作流程測試
//
// 測試目標:
//   在行程內匯流排上驗證完整的料箱處理循環：
//   1. 料箱上秤自動開工
//   2. QR 分配 → RFID 識別 → 秤重 → 驗證 → 結單 → 出貨
//   3. 逾時與中止路徑回到閒置且不留工單
//
// 測試配置:
//   - MemoryBus 取代 broker（遞送語義相同：非同步、依序）
//   - StaticStore 取代 SQLite（同一 Store 介面）
//   - 縮短的停留時間（50ms）讓測試同時涵蓋 dwell 行為
//
// ============================================================================

package integration

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/bin-workflow/internal/bus"
	"github.com/ChuLiYu/bin-workflow/internal/lookup"
	"github.com/ChuLiYu/bin-workflow/internal/workflow"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

func testSetup(t *testing.T, mutate func(*workflow.Config)) (*bus.MemoryBus, *workflow.Orchestrator) {
	t.Helper()

	b := bus.NewMemoryBus()
	require.NoError(t, b.Connect())

	store := lookup.NewStaticStore()
	store.Add("part_weight_db", types.Record{
		types.PartKeyNumber:    "64303-K0L-D000",
		types.PartKeyName:      "BRACKET COMP FR",
		types.PartKeyWeight:    0.2,
		types.PartKeyBinQty:    50,
		types.PartKeyTolerance: 2,
	})
	store.Add("rfid_bin_db", types.Record{
		types.BinKeyEpc:         "E7 76 09 89 49 00 37 33 90 00 00 01",
		types.BinKeyEmptyWeight: 2.5,
	})

	cfg := workflow.DefaultConfig()
	cfg.Devices = map[types.DeviceRole]string{
		types.RoleQRScanner:  "qr_scanner_01",
		types.RoleRFIDReader: "192.168.1.102",
		types.RoleScale:      "scale_01",
		types.RolePrinter:    "printer_01",
	}
	cfg.Dwell = map[types.WorkflowState]time.Duration{
		types.StateJobAllocation: 50 * time.Millisecond,
		types.StateWaitingRfid:   50 * time.Millisecond,
		types.StateWaitingWeight: 50 * time.Millisecond,
		types.StateVerification:  50 * time.Millisecond,
		types.StateJobCloseout:   50 * time.Millisecond,
	}
	cfg.PollInterval = 10 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}

	orch := workflow.New(b, store, cfg, nil)
	require.NoError(t, orch.Start())
	t.Cleanup(func() {
		orch.Stop()
		b.Close()
	})
	return b, orch
}

func publishData(t *testing.T, b *bus.MemoryBus, orch *workflow.Orchestrator, deviceType, deviceID string, msg types.DeviceData) {
	t.Helper()
	msg.MsgType = "data"
	msg.DeviceID = deviceID
	if job := orch.JobSnapshot(); job != nil {
		msg.CorrelationID = job.CorrelationID
	}
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, b.Publish("factory/"+deviceType+"/"+deviceID+"/data", payload))
}

func requireState(t *testing.T, orch *workflow.Orchestrator, state types.WorkflowState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if orch.State() == state {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, state, orch.State())
}

func TestFullJobCycle(t *testing.T) {
	b, orch := testSetup(t, nil)
	requireState(t, orch, types.StateIdle)

	start := time.Now()

	// 料箱上秤，自動開工
	publishData(t, b, orch, "scale", "scale_01", types.DeviceData{Weight: 12.5, Stable: true})
	requireState(t, orch, types.StateJobAllocation)

	job := orch.JobSnapshot()
	require.NotNil(t, job, "auto-start must create a job")

	// QR 分配
	publishData(t, b, orch, "qr", "qr_scanner_01", types.DeviceData{QRCode: "64303-K0L-D000"})
	requireState(t, orch, types.StateWaitingRfid)

	// RFID 識別
	publishData(t, b, orch, "rfid", "192.168.1.102",
		types.DeviceData{Epc: "E7 76 09 89 49 00 37 33 90 00 00 01"})
	requireState(t, orch, types.StateWaitingWeight)

	// 穩定秤重 → 驗證 → 結單
	net := 9.8
	publishData(t, b, orch, "scale", "scale_01",
		types.DeviceData{Weight: 12.3, Stable: true, NetWeight: &net})
	requireState(t, orch, types.StateJobCloseout)

	// 離秤 → 出貨 → 回到閒置
	publishData(t, b, orch, "scale", "scale_01", types.DeviceData{Weight: 0.5, Stable: true})
	requireState(t, orch, types.StateIdle)

	// 每個有停留時間的狀態至少停留 50ms：五個經過的狀態合計下限
	require.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond,
		"cycle must respect per-state minimum dwell")

	require.Nil(t, orch.JobSnapshot(), "job must be cleared after dispatch")
	require.Equal(t, 1, orch.History().Len())

	done := orch.History().Snapshot()[0]
	require.Equal(t, "64303-K0L-D000", done.PartNumber)
	require.Equal(t, "E7 76 09 89 49 00 37 33 90 00 00 01", done.RfidEpc)
	require.Equal(t, 49, done.ActualCount)
	require.True(t, done.CountOK)
	require.NotNil(t, done.CompletedAt)
}

func TestTimeoutCycle(t *testing.T) {
	b, orch := testSetup(t, func(cfg *workflow.Config) {
		cfg.Timeouts = map[types.WorkflowState]time.Duration{
			types.StateWaitingRfid: 150 * time.Millisecond,
		}
	})
	requireState(t, orch, types.StateIdle)

	publishData(t, b, orch, "scale", "scale_01", types.DeviceData{Weight: 12.5, Stable: true})
	requireState(t, orch, types.StateJobAllocation)
	publishData(t, b, orch, "qr", "qr_scanner_01", types.DeviceData{QRCode: "64303-K0L-D000"})
	requireState(t, orch, types.StateWaitingRfid)

	// 沒有標籤事件：逾時強制進入 Error 再回到 Idle
	requireState(t, orch, types.StateIdle)
	require.Nil(t, orch.JobSnapshot(), "timed-out job must be discarded")
	require.Equal(t, 0, orch.History().Len(), "failed jobs are not archived")
}

func TestAbortCycle(t *testing.T) {
	b, orch := testSetup(t, nil)
	requireState(t, orch, types.StateIdle)

	publishData(t, b, orch, "scale", "scale_01", types.DeviceData{Weight: 12.5, Stable: true})
	requireState(t, orch, types.StateJobAllocation)

	require.NoError(t, b.Publish("factory/workflow/cmd/abort_job", []byte("{}")))

	requireState(t, orch, types.StateIdle)
	require.Nil(t, orch.JobSnapshot(), "aborted job must be discarded")

	// 中止後系統可以直接開始下一輪
	publishData(t, b, orch, "scale", "scale_01", types.DeviceData{Weight: 12.5, Stable: true})
	requireState(t, orch, types.StateJobAllocation)
	require.NotNil(t, orch.JobSnapshot())
}
