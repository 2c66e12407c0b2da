// ============================================================================
// Bin-Workflow 對外事件發布 - workflow/* 主題
// ============================================================================
//
// 每次狀態變更、任務確認與錯誤都對外發布，外部觀察者訂閱
// {root}/workflow/* 即可即時看到流程全貌，沒有靜默失敗。
//
// ============================================================================

package workflow

import (
	"encoding/json"

	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

// publishStatus 發布目前狀態（{root}/workflow/status）
func (o *Orchestrator) publishStatus() {
	msg := types.WorkflowStatus{
		MsgType:   "status",
		Timestamp: types.Now(),
		State:     o.sched.State(),
	}
	if o.job != nil {
		msg.JobID = o.job.JobID
	}
	o.publish("status", msg)
}

// publishAck 發布任務確認（{root}/workflow/ack）
func (o *Orchestrator) publishAck(task string, success bool, data types.Record) {
	msg := types.TaskAck{
		Task:      task,
		Success:   success,
		Data:      data,
		Timestamp: types.Now(),
	}
	if o.job != nil {
		msg.JobID = o.job.JobID
	}
	o.publish("ack", msg)
}

// publishError 發布錯誤事件（{root}/workflow/error）
func (o *Orchestrator) publishError(errorMsg, jobID string) {
	o.publish("error", types.WorkflowError{
		MsgType:   "error",
		Timestamp: types.Now(),
		ErrorMsg:  errorMsg,
		JobID:     jobID,
	})
}

// publishJobComplete 發布完成工單快照（{root}/workflow/job_complete）
// 時間戳以 ISO-8601 字串輸出
func (o *Orchestrator) publishJobComplete(job *types.JobContext) {
	snapshot := types.Record{
		"job_id":            job.JobID,
		"correlation_id":    job.CorrelationID,
		"part_number":       job.PartNumber,
		"part_details":      job.PartDetails,
		"rfid_epc":          job.RfidEpc,
		"empty_bin_weight":  job.EmptyBinWeight,
		"gross_weight":      job.GrossWeight,
		"loaded_bin_weight": job.LoadedBinWeight,
		"net_weight":        job.NetWeight,
		"target_count":      job.TargetCount,
		"actual_count":      job.ActualCount,
		"count_ok":          job.CountOK,
		"started_at":        job.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		"errors":            job.Errors,
	}
	if job.CompletedAt != nil {
		snapshot["completed_at"] = job.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	o.publish("job_complete", snapshot)
}

// publish 序列化並發布到 {root}/workflow/{event}
func (o *Orchestrator) publish(event string, msg interface{}) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error("Failed to encode workflow event", "event", event, "error", err)
		return
	}
	topic := o.cfg.TopicRoot + "/workflow/" + event
	if err := o.bus.Publish(topic, payload); err != nil {
		log.Error("Failed to publish workflow event", "topic", topic, "error", err)
	}
}
