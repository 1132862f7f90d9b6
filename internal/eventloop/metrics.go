package eventloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTimersFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corerouted_eventloop_timers_fired_total",
		Help: "Count of timer callbacks dispatched by the event loop.",
	})
	metricTasksRan = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corerouted_eventloop_tasks_run_total",
		Help: "Count of background task callbacks run by the event loop.",
	})
	metricIODispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "corerouted_eventloop_io_dispatched_total",
		Help: "Count of I/O readiness callbacks dispatched by the event loop.",
	})
)

type loopMetrics struct{}

func newLoopMetrics() *loopMetrics { return &loopMetrics{} }

func (*loopMetrics) timersFiredAdd(n float64) {
	if n > 0 {
		metricTimersFired.Add(n)
	}
}

func (*loopMetrics) tasksRanAdd(n float64) {
	if n > 0 {
		metricTasksRan.Add(n)
	}
}

func (*loopMetrics) ioDispatchedInc() {
	metricIODispatched.Inc()
}
