package main

// ============================================================================
// 職責說明：
// 1. 在行程內匯流排上跑一輪完整的料箱處理流程
// 2. 以腳本扮演 QR 掃描器、RFID 讀取器與磅秤
// 3. 不需要 broker 與真實設備，展示協調器的完整事件流
//
// 執行：go run cmd/demo/main.go
// ============================================================================

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/bin-workflow/internal/bus"
	"github.com/ChuLiYu/bin-workflow/internal/lookup"
	"github.com/ChuLiYu/bin-workflow/internal/workflow"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

func main() {
	b := bus.NewMemoryBus()
	if err := b.Connect(); err != nil {
		log.Fatalf("Failed to start in-process bus: %v", err)
	}
	defer b.Close()

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

	// 扮演設備服務：記下命令附帶的 correlation id，之後的遙測原樣帶回
	var mu sync.Mutex
	var correlation string
	if err := b.Subscribe("factory/+/+/cmd/#", func(topic string, payload []byte) {
		var params map[string]interface{}
		json.Unmarshal(payload, &params)
		if cid, ok := params["correlation_id"].(string); ok {
			mu.Lock()
			correlation = cid
			mu.Unlock()
		}
		fmt.Printf("  → device command  %s\n", topic)
	}); err != nil {
		log.Fatalf("Failed to subscribe commands: %v", err)
	}
	if err := b.Subscribe("factory/workflow/#", func(topic string, payload []byte) {
		fmt.Printf("  ← workflow event  %-30s %s\n",
			strings.TrimPrefix(topic, "factory/workflow/"), payload)
	}); err != nil {
		log.Fatalf("Failed to subscribe events: %v", err)
	}

	cfg := workflow.DefaultConfig()
	cfg.Devices = map[types.DeviceRole]string{
		types.RoleQRScanner:  "qr_scanner_01",
		types.RoleRFIDReader: "192.168.1.102",
		types.RoleScale:      "scale_01",
		types.RolePrinter:    "printer_01",
	}
	// 加快節奏，示範仍看得到每個狀態
	cfg.Dwell = map[types.WorkflowState]time.Duration{
		types.StateJobAllocation: 300 * time.Millisecond,
		types.StateWaitingRfid:   300 * time.Millisecond,
		types.StateWaitingWeight: 300 * time.Millisecond,
		types.StateVerification:  300 * time.Millisecond,
		types.StateJobCloseout:   300 * time.Millisecond,
	}

	orch := workflow.New(b, store, cfg, nil)
	if err := orch.Start(); err != nil {
		log.Fatalf("Failed to start orchestrator: %v", err)
	}
	defer orch.Stop()

	sendData := func(deviceType, deviceID string, msg types.DeviceData) {
		msg.MsgType = "data"
		msg.DeviceID = deviceID
		mu.Lock()
		msg.CorrelationID = correlation
		mu.Unlock()
		payload, _ := json.Marshal(msg)
		b.Publish("factory/"+deviceType+"/"+deviceID+"/data", payload)
	}
	waitState := func(state types.WorkflowState) {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if orch.State() == state {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		log.Fatalf("Timed out waiting for state %s (stuck at %s)", state, orch.State())
	}

	fmt.Println("=== Bin handling demo: one full job cycle ===")
	waitState(types.StateIdle)

	fmt.Println("\n[1] Loaded bin placed on the scale (12.5 kg, stable)")
	sendData("scale", "scale_01", types.DeviceData{Weight: 12.5, Stable: true})
	waitState(types.StateJobAllocation)

	fmt.Println("\n[2] Operator scans the part QR code")
	sendData("qr", "qr_scanner_01", types.DeviceData{QRCode: "64303-K0L-D000"})
	waitState(types.StateWaitingRfid)

	fmt.Println("\n[3] RFID reader picks up the bin tag")
	sendData("rfid", "192.168.1.102", types.DeviceData{Epc: "E7 76 09 89 49 00 37 33 90 00 00 01"})
	waitState(types.StateWaitingWeight)

	fmt.Println("\n[4] Scale settles on the loaded weight")
	net := 9.8
	sendData("scale", "scale_01", types.DeviceData{Weight: 12.3, Stable: true, NetWeight: &net})
	waitState(types.StateJobCloseout)

	fmt.Println("\n[5] Bin taken off the scale")
	sendData("scale", "scale_01", types.DeviceData{Weight: 0.0, Stable: true})
	waitState(types.StateIdle)

	for _, job := range orch.History().Snapshot() {
		fmt.Printf("\n=== Job %s completed ===\n", job.JobID)
		fmt.Printf("  Part:        %s\n", job.PartNumber)
		fmt.Printf("  Bin EPC:     %s\n", job.RfidEpc)
		fmt.Printf("  Net weight:  %.2f kg\n", job.NetWeight)
		fmt.Printf("  Count:       %d / %d (ok=%v)\n", job.ActualCount, job.TargetCount, job.CountOK)
		fmt.Printf("  Duration:    %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond))
	}
}
