package memory

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor periodically sweeps stale tracked resources in long-running mode.
type Janitor struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewJanitor schedules CleanupOldResources(maxAge) on the monitor using a cron
// spec such as "@every 1m".
func NewJanitor(m *Monitor, schedule string, maxAge time.Duration, logger *zap.Logger) (*Janitor, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		m.CleanupOldResources(maxAge)
	})
	if err != nil {
		return nil, err
	}
	return &Janitor{cron: c, logger: logger}, nil
}

func (j *Janitor) Start() {
	j.logger.Info("Memory janitor started")
	j.cron.Start()
}

func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("Memory janitor stopped")
}
