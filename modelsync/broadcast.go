package modelsync

import (
	"sync"

	"agrisense/models"
)

// broadcaster fans collection snapshots out to subscribers. Each
// subscriber holds at most one pending snapshot, always the newest.
type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan []models.ModelRecord
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan []models.ModelRecord)}
}

func (b *broadcaster) subscribe() (<-chan []models.ModelRecord, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan []models.ModelRecord, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

func (b *broadcaster) publish(snapshot []models.ModelRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- append([]models.ModelRecord(nil), snapshot...)
	}
}
