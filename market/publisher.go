package market

import "sync"

// Publisher 一个轻量事件分发器：慢订阅者丢弃旧事件，只保留最新一条。
type Publisher struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Update
}

func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan Update)}
}

// Subscribe 返回事件通道和取消函数；取消后通道被关闭。
func (p *Publisher) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)
	p.mu.Lock()
	id := p.next
	p.next++
	p.subs[id] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers 当前订阅数。
func (p *Publisher) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

func (p *Publisher) Publish(u Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		// 通道已满：丢掉未读的旧事件再放入新事件
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}
