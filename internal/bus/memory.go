package bus

import (
	"errors"
	"sync"
)

// ErrClosed 匯流排已關閉
var ErrClosed = errors.New("memory bus closed")

type memoryMessage struct {
	topic   string
	payload []byte
}

type subscription struct {
	filter  string
	handler Handler
}

// MemoryBus 行程內的訊息匯流排，實作 Client 介面
//
// 測試與 demo 使用。和真實 broker 一樣以獨立的分派 goroutine 非同步遞送，
// 同一個 MemoryBus 上的所有 handler 依發布順序序列執行——發布端永遠不會在
// 自己的呼叫棧裡直接觸發 handler（避免持鎖重入）。
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []subscription
	queue  chan memoryMessage
	done   chan struct{}
	closed bool
}

// NewMemoryBus 建立行程內匯流排
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		queue: make(chan memoryMessage, 256),
		done:  make(chan struct{}),
	}
}

// Connect 啟動分派迴圈
func (b *MemoryBus) Connect() error {
	go b.dispatchLoop()
	return nil
}

func (b *MemoryBus) dispatchLoop() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.queue:
			b.mu.RLock()
			subs := make([]subscription, len(b.subs))
			copy(subs, b.subs)
			b.mu.RUnlock()

			for _, s := range subs {
				if TopicMatch(s.filter, msg.topic) {
					s.handler(msg.topic, msg.payload)
				}
			}
		}
	}
}

// Subscribe 註冊主題過濾器
func (b *MemoryBus) Subscribe(filter string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.subs = append(b.subs, subscription{filter: filter, handler: h})
	return nil
}

// Publish 將訊息排入分派佇列
func (b *MemoryBus) Publish(topic string, payload []byte) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	// 複製 payload：發布端可能重用緩衝區
	p := make([]byte, len(payload))
	copy(p, payload)

	select {
	case b.queue <- memoryMessage{topic: topic, payload: p}:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Close 停止分派迴圈
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
}
