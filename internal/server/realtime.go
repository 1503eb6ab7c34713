package server

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
)

const (
	RealtimeEventNotification = "notification"
	realtimeEventHeartbeat    = "heartbeat"
	realtimeHeartbeatInterval = 25 * time.Second
)

type RealtimeMessage struct {
	UserID       string
	EventType    string
	Notification tasks.Notification
	Timestamp    time.Time
}

// RealtimeDispatcher fans notifications out to the streams of their recipient.
// Publishing never blocks: a subscriber whose buffer is full misses the event.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan RealtimeMessage, func()) {
	if userID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregisterSubscriber(userID, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishNotification implements tasks.Publisher.
func (d *RealtimeDispatcher) PublishNotification(notification tasks.Notification) {
	d.Publish(RealtimeMessage{
		UserID:       notification.UserID,
		EventType:    RealtimeEventNotification,
		Notification: notification,
		Timestamp:    d.clock().UTC(),
	})
}

// SubscriberCount reports how many streams are open for the user.
func (d *RealtimeDispatcher) SubscriberCount(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[userID])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
