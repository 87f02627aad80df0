package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/MemberPortal/internal/pkg/cache"
	"github.com/ManuelReschke/MemberPortal/internal/pkg/metrics"
)

// PeriodicTask is a maintenance job the manager runs on a ticker.
type PeriodicTask struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue   *Queue
	tasks   []PeriodicTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(NewQueue(cache.GetClient(), ConfigFromEnv()))
	})
	return globalManager
}

// NewManager creates a manager around an existing queue.
func NewManager(queue *Queue) *Manager {
	return &Manager{
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// AddTask registers a periodic task. Tasks added while running start with the next Start.
func (m *Manager) AddTask(task PeriodicTask) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("periodic task needs a name and a run function")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("periodic task %s needs a positive interval", task.Name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.Name == task.Name {
			return fmt.Errorf("periodic task %s already registered", task.Name)
		}
	}
	m.tasks = append(m.tasks, task)
	return nil
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	for _, task := range m.tasks {
		m.wg.Add(1)
		go m.runPeriodic(task, m.stopCh)
	}

	log.Infof("[JobQueue Manager] Started successfully (%d periodic tasks)", len(m.tasks))
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// runPeriodic runs task on its interval until stopCh closes.
func (m *Manager) runPeriodic(task PeriodicTask, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.Name, task.Interval)

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.Name)
			return
		case <-ticker.C:
			m.runOnce(task)
		}
	}
}

func (m *Manager) runOnce(task PeriodicTask) {
	ctx, cancel := context.WithTimeout(context.Background(), task.Interval)
	defer cancel()
	if err := task.Run(ctx); err != nil {
		log.Errorf("[JobQueue Manager] %s error: %v", task.Name, err)
		metrics.JobsTotal.WithLabelValues(task.Name, "failed").Inc()
		return
	}
	metrics.JobsTotal.WithLabelValues(task.Name, "completed").Inc()
}

// RunTaskOnce runs a registered task immediately (admin use).
func (m *Manager) RunTaskOnce(name string) error {
	m.mu.Lock()
	var task *PeriodicTask
	for i := range m.tasks {
		if m.tasks[i].Name == name {
			task = &m.tasks[i]
			break
		}
	}
	m.mu.Unlock()
	if task == nil {
		return fmt.Errorf("unknown periodic task: %s", name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), task.Interval)
	defer cancel()
	return task.Run(ctx)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
