// Scheduler metrics for rxcore
// 带监控的调度器包装器，指标通过prometheus导出
package rxcore

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics 调度器性能指标
type SchedulerMetrics struct {
	TasksScheduled *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	TasksFailed    *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
}

// NewSchedulerMetrics 创建并注册调度器指标，重复注册时复用已存在的指标
func NewSchedulerMetrics(reg prometheus.Registerer) (*SchedulerMetrics, error) {
	labels := []string{"scheduler"}

	scheduled, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxcore",
		Subsystem: "scheduler",
		Name:      "tasks_scheduled_total",
		Help:      "Number of actions handed to the scheduler.",
	}, labels))
	if err != nil {
		return nil, err
	}
	completed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxcore",
		Subsystem: "scheduler",
		Name:      "tasks_completed_total",
		Help:      "Number of actions that returned normally.",
	}, labels))
	if err != nil {
		return nil, err
	}
	failed, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rxcore",
		Subsystem: "scheduler",
		Name:      "tasks_failed_total",
		Help:      "Number of actions that panicked.",
	}, labels))
	if err != nil {
		return nil, err
	}
	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rxcore",
		Subsystem: "scheduler",
		Name:      "task_duration_seconds",
		Help:      "Action run time measured on the scheduler clock.",
		Buckets:   prometheus.DefBuckets,
	}, labels))
	if err != nil {
		return nil, err
	}

	return &SchedulerMetrics{
		TasksScheduled: scheduled,
		TasksCompleted: completed,
		TasksFailed:    failed,
		TaskDuration:   duration,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Annotate(err, "registering scheduler metrics")
	}
	return c, nil
}

// ============================================================================
// monitoredScheduler 带监控的调度器包装器
// ============================================================================

type monitoredScheduler struct {
	name    string
	inner   Scheduler
	metrics *SchedulerMetrics
}

var _ Scheduler = (*monitoredScheduler)(nil)

// NewMonitoredScheduler 创建带监控的调度器
func NewMonitoredScheduler(name string, inner Scheduler, metrics *SchedulerMetrics) Scheduler {
	return &monitoredScheduler{name: name, inner: inner, metrics: metrics}
}

// instrument 记录任务的执行结果；panic在这里被捕获并上报
func (s *monitoredScheduler) instrument(action func()) func() {
	return func() {
		start := s.inner.Now()
		err := SafeExecute(action)
		s.metrics.TaskDuration.WithLabelValues(s.name).Observe(s.inner.Now().Sub(start).Seconds())
		if err != nil {
			s.metrics.TasksFailed.WithLabelValues(s.name).Inc()
			report(ScheduledActionFault, s.name, err)
			return
		}
		s.metrics.TasksCompleted.WithLabelValues(s.name).Inc()
	}
}

func (s *monitoredScheduler) Now() time.Time {
	return s.inner.Now()
}

// Schedule 调度任务并记录指标
func (s *monitoredScheduler) Schedule(action func()) Disposable {
	s.metrics.TasksScheduled.WithLabelValues(s.name).Inc()
	return s.inner.Schedule(s.instrument(action))
}

// ScheduleAfter 延迟调度任务并记录指标
func (s *monitoredScheduler) ScheduleAfter(due time.Duration, action func()) Disposable {
	s.metrics.TasksScheduled.WithLabelValues(s.name).Inc()
	return s.inner.ScheduleAfter(due, s.instrument(action))
}

// SchedulePeriodic 周期调度，每次触发计为一次调度
func (s *monitoredScheduler) SchedulePeriodic(period time.Duration, action func()) Disposable {
	tick := s.instrument(action)
	return s.inner.SchedulePeriodic(period, func() {
		s.metrics.TasksScheduled.WithLabelValues(s.name).Inc()
		tick()
	})
}
