package timer

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

// Cron is a Scheduler backed by gocron one-time jobs.
// Due callbacks are posted to C and must be run by the consumer, so they
// execute on the consumer's goroutine rather than gocron's.
type Cron struct {
	scheduler gocron.Scheduler
	fired     chan func()

	mu   sync.Mutex
	next Handle
	jobs map[Handle]uuid.UUID
}

// NewCron creates and starts a gocron-backed scheduler.
// buffer sizes the channel of due callbacks.
func NewCron(buffer int) (*Cron, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create gocron scheduler: %w", err)
	}
	c := &Cron{
		scheduler: s,
		fired:     make(chan func(), buffer),
		jobs:      make(map[Handle]uuid.UUID),
	}
	s.Start()
	return c, nil
}

// C delivers callbacks that fell due. The consumer runs them.
func (c *Cron) C() <-chan func() {
	return c.fired
}

// ScheduleOnce registers a one-time gocron job that posts fn to C after d.
// Returns the zero Handle if gocron rejects the job.
func (c *Cron) ScheduleOnce(d time.Duration, fn func()) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.next++
	h := c.next

	start := gocron.OneTimeJobStartImmediately()
	if d > 0 {
		start = gocron.OneTimeJobStartDateTime(time.Now().Add(d))
	}

	job, err := c.scheduler.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(c.deliver, h, fn),
		gocron.WithName(fmt.Sprintf("timer-%d", h)),
	)
	if err != nil {
		log.Printf("timer: schedule %v: %v", d, err)
		return 0
	}
	c.jobs[h] = job.ID()
	return h
}

// Cancel removes the job behind h if it has not fired yet.
func (c *Cron) Cancel(h Handle) {
	c.mu.Lock()
	id, ok := c.jobs[h]
	delete(c.jobs, h)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := c.scheduler.RemoveJob(id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		log.Printf("timer: cancel %d: %v", h, err)
	}
}

// Shutdown stops the underlying gocron scheduler.
func (c *Cron) Shutdown() error {
	return c.scheduler.Shutdown()
}

func (c *Cron) deliver(h Handle, fn func()) {
	c.mu.Lock()
	_, live := c.jobs[h]
	delete(c.jobs, h)
	c.mu.Unlock()

	if !live {
		return
	}
	c.fired <- fn
}
