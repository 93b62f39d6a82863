package eventbus

import (
	evbus "github.com/asaskevich/EventBus"
)

// Publisher is what producers need from the bus.
type Publisher interface {
	Publish(topic string, args ...interface{})
}

// Bus 同步分发加异步持久化
type Bus struct {
	sync  evbus.Bus
	async *AsyncEventBus
}

// New 创建事件总线，workerNum 为异步 worker 数
func New(workerNum int, logger Logger) *Bus {
	b := &Bus{
		sync:  evbus.New(),
		async: NewAsyncEventBus(workerNum, logger),
	}
	b.async.Start()
	return b
}

// Publish 同步通知订阅者，同时投递给异步订阅者
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.sync.Publish(topic, args...)
	if b.async.HasCallback(topic) {
		b.async.PublishAsync(topic, args...)
	}
}

// Subscribe 订阅同步事件
func (b *Bus) Subscribe(topic string, fn interface{}) error {
	return b.sync.Subscribe(topic, fn)
}

// SubscribeAsync 订阅异步事件，回调在 worker 中执行
func (b *Bus) SubscribeAsync(topic string, fn interface{}) error {
	return b.async.Subscribe(topic, fn)
}

// Flush 等待已投递的异步事件处理完成
func (b *Bus) Flush() {
	b.async.Wait()
}

// Dropped 返回因队列满丢弃的事件数
func (b *Bus) Dropped() int64 {
	return b.async.Dropped()
}

// Close 关闭事件总线
func (b *Bus) Close() {
	b.async.Stop()
}
