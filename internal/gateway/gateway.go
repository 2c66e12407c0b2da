// ============================================================================
// Bin-Workflow 設備閘道 - 出站命令邊界
// ============================================================================
//
// Package: internal/gateway
// 文件: gateway.go
// 功能: 把「對角色 R 發送命令 C、參數 P」轉成對應主題的出站發布
//
// 設計重點:
//   - DeviceRegistry 維護邏輯角色 → 設備 ID 的對應，只能透過 set_devices
//     控制命令改寫，所有出站主題都由它組出
//   - 發布一律 fire-and-forget：不等待設備回應，回應會以獨立的入站
//     訊息回來
//   - 若目前有進行中的工單，命令參數自動附上 correlation_id，設備服務
//     會原樣帶回，供路由器過濾過期訊息
//
// ============================================================================

package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/bin-workflow/internal/bus"
	"github.com/ChuLiYu/bin-workflow/pkg/types"
)

var log = slog.Default()

// DeviceRegistry 邏輯角色 → 設備 ID 對應表
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[types.DeviceRole]string
}

// NewDeviceRegistry 建立設備註冊表
func NewDeviceRegistry(devices map[types.DeviceRole]string) *DeviceRegistry {
	m := make(map[types.DeviceRole]string, len(devices))
	for role, id := range devices {
		m[role] = id
	}
	return &DeviceRegistry{devices: m}
}

// Get 取得角色對應的設備 ID，未設定時回傳 ok=false
func (r *DeviceRegistry) Get(role types.DeviceRole) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.devices[role]
	return id, ok && id != ""
}

// Update 批次覆寫角色對應（set_devices 控制命令）
// 只更新給定的角色，其餘維持不變
func (r *DeviceRegistry) Update(devices map[types.DeviceRole]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for role, id := range devices {
		r.devices[role] = id
	}
}

// Snapshot 回傳目前對應表的副本
func (r *DeviceRegistry) Snapshot() map[types.DeviceRole]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[types.DeviceRole]string, len(r.devices))
	for role, id := range r.devices {
		out[role] = id
	}
	return out
}

// Gateway 設備命令出站邊界
type Gateway struct {
	bus      bus.Client
	registry *DeviceRegistry
	root     string // 主題根，預設 "factory"

	// correlation 回傳目前工單的 correlation id，沒有工單時回傳空字串。
	// 由協調器注入，在轉換鎖之下讀取工單。
	correlation func() string
}

// New 建立設備閘道
func New(client bus.Client, registry *DeviceRegistry, topicRoot string, correlation func() string) *Gateway {
	return &Gateway{
		bus:         client,
		registry:    registry,
		root:        topicRoot,
		correlation: correlation,
	}
}

// Registry 回傳閘道使用的設備註冊表
func (g *Gateway) Registry() *DeviceRegistry {
	return g.registry
}

// SendCommand 對指定角色發送命令
//
// 主題：{root}/{device_type}/{device_id}/cmd/{command}
// 參數物件自動附上 correlation_id（若有進行中的工單）。
// 角色未設定設備時記錄警告並略過，不視為錯誤。
func (g *Gateway) SendCommand(role types.DeviceRole, command string, params map[string]interface{}) {
	deviceID, ok := g.registry.Get(role)
	if !ok {
		log.Warn("No device configured for role, command skipped",
			"role", role, "command", command)
		return
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if cid := g.correlation(); cid != "" {
		params["correlation_id"] = cid
	}

	payload, err := json.Marshal(params)
	if err != nil {
		log.Error("Failed to encode command payload", "command", command, "error", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/%s/cmd/%s", g.root, role.DeviceType(), deviceID, command)
	if err := g.bus.Publish(topic, payload); err != nil {
		log.Error("Failed to publish command", "topic", topic, "error", err)
		return
	}

	log.Debug("Sent device command", "topic", topic)
}

// StopAll 對每個已設定的設備角色發送對應的停止命令
// 錯誤與中止路徑使用；沒有停止命令的角色（印表機）跳過
func (g *Gateway) StopAll() {
	for _, role := range types.AllRoles {
		stop := role.StopCommand()
		if stop == "" {
			continue
		}
		if _, ok := g.registry.Get(role); !ok {
			continue
		}
		g.SendCommand(role, stop, nil)
	}
}
