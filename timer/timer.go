// timer/timer.go
package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/wfunc/econgames/logger"
)

type TimerTask struct {
	Id       int64
	Name     string
	Execute  time.Time
	Interval time.Duration
	Callback func(ctx context.Context)
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

// TimerManager runs delayed and repeating callbacks off a single heap.
// Callbacks receive a context cancelled by Stop.
type TimerManager struct {
	queue      TimerQueue
	mutex      sync.Mutex
	nextId     int64
	trigger    chan *TimerTask
	resolution time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

func NewTimerManager() *TimerManager {
	return NewTimerManagerWithResolution(100 * time.Millisecond)
}

// NewTimerManagerWithResolution checks the queue every resolution.
func NewTimerManagerWithResolution(resolution time.Duration) *TimerManager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &TimerManager{
		queue:      make(TimerQueue, 0),
		trigger:    make(chan *TimerTask, 1000),
		nextId:     1,
		resolution: resolution,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, then every interval if interval > 0.
func (m *TimerManager) AddTimer(name string, delay time.Duration, interval time.Duration, callback func(ctx context.Context)) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task := &TimerTask{
		Id:       m.nextId,
		Name:     name,
		Execute:  time.Now().Add(delay),
		Interval: interval,
		Callback: callback,
	}
	m.nextId++

	heap.Push(&m.queue, task)
	return task.Id
}

func (m *TimerManager) RemoveTimer(timerId int64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for i, task := range m.queue {
		if task.Id == timerId {
			heap.Remove(&m.queue, i)
			break
		}
	}
}

// Len returns the number of scheduled tasks.
func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop cancels running callbacks and waits for them to return.
func (m *TimerManager) Stop() {
	select {
	case <-m.done:
		return
	default:
	}
	m.cancel()
	<-m.done
	m.wg.Wait()
}

func (m *TimerManager) process() {
	defer close(m.done)
	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			m.mutex.Lock()
			now := time.Now()

			for m.queue.Len() > 0 {
				task := m.queue[0]
				if task.Execute.After(now) {
					break
				}

				heap.Pop(&m.queue)
				select {
				case m.trigger <- task:
				default:
					logger.Log.Warnf("Timer %d (%s) dropped, trigger queue full", task.Id, task.Name)
				}

				if task.Interval > 0 {
					task.Execute = now.Add(task.Interval)
					heap.Push(&m.queue, task)
				}
			}
			m.mutex.Unlock()

		case task := <-m.trigger:
			m.wg.Add(1)
			go m.run(task)
		}
	}
}

func (m *TimerManager) run(task *TimerTask) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Timer %d (%s) panicked: %v", task.Id, task.Name, r)
		}
	}()
	task.Callback(m.ctx)
}
