package bus

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// 預設 QoS 1：設備服務與協調器都假設 at-least-once 傳遞
const defaultQoS = 1

// ErrNotConnected 尚未連線就發布或訂閱
var ErrNotConnected = errors.New("mqtt client not connected")

// MQTTClient 以 Eclipse Paho 實作 Client 介面
//
// SetOrderMatters(true) 讓 Paho 在單一回呼 goroutine 上依序叫用 handler，
// 符合 bus.Client 的序列化傳遞契約。
type MQTTClient struct {
	opts   *mqtt.ClientOptions
	client mqtt.Client
}

// NewMQTTClient 建立 MQTT 客戶端
//
// 參數：
//   - brokerURL: 例如 "tcp://localhost:1883"
//   - clientID: MQTT client id，同一 broker 上必須唯一
func NewMQTTClient(brokerURL, clientID string) *MQTTClient {
	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetOrderMatters(true).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetKeepAlive(30 * time.Second)

	return &MQTTClient{opts: opts}
}

// Connect 建立 broker 連線（阻塞直到成功或逾時）
func (c *MQTTClient) Connect() error {
	c.client = mqtt.NewClient(c.opts)
	token := c.client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return fmt.Errorf("mqtt connect timed out: %s", c.opts.Servers)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect failed: %w", err)
	}
	return nil
}

// Subscribe 訂閱主題過濾器
func (c *MQTTClient) Subscribe(filter string, h Handler) error {
	if c.client == nil {
		return ErrNotConnected
	}
	token := c.client.Subscribe(filter, defaultQoS, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %q failed: %w", filter, err)
	}
	return nil
}

// Publish 發布訊息（不等待確認，符合 fire-and-forget 契約）
func (c *MQTTClient) Publish(topic string, payload []byte) error {
	if c.client == nil {
		return ErrNotConnected
	}
	c.client.Publish(topic, defaultQoS, false, payload)
	return nil
}

// Close 中斷連線，給在途訊息 250ms 清空
func (c *MQTTClient) Close() {
	if c.client != nil {
		c.client.Disconnect(250)
	}
}
