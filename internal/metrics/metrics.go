// Package metrics bridges bus events into Prometheus collectors on a private
// registry served by the ops server.
package metrics

import (
	"context"
	"strings"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"

	"pookie/internal/eventbus"
	"pookie/internal/feedback"
	"pookie/internal/notifications"
	"pookie/internal/notifier"
	"pookie/internal/platform/desktop"
	"pookie/internal/platform/local"
	logx "pookie/pkg/logx"
)

const namespace = "pookie"

type Option func(*Collector)

// WithGaugeFunc registers a gauge evaluated at scrape time.
func WithGaugeFunc(name, help string, fn func() float64) Option {
	return func(c *Collector) {
		c.funcs = append(c.funcs, prom.NewGaugeFunc(prom.GaugeOpts{Namespace: namespace, Name: name, Help: help}, fn))
	}
}

// WithCounterFunc registers a counter read from fn at scrape time.
func WithCounterFunc(name, help string, fn func() float64) Option {
	return func(c *Collector) {
		c.funcs = append(c.funcs, prom.NewCounterFunc(prom.CounterOpts{Namespace: namespace, Name: name, Help: help}, fn))
	}
}

// WithRuntimeCollectors adds the Go and process collectors.
func WithRuntimeCollectors() Option {
	return func(c *Collector) { c.runtime = true }
}

type Collector struct {
	reg *prom.Registry
	log logx.Logger

	permission prom.Gauge
	scheduled  *prom.CounterVec
	canceled   *prom.CounterVec
	pruned     prom.Counter
	fired      *prom.CounterVec
	feedback   *prom.CounterVec
	pulses     *prom.CounterVec
	notifier   *prom.CounterVec

	funcs   []prom.Collector
	runtime bool
}

func New(log logx.Logger, opts ...Option) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prom.NewRegistry(),
		log: log,
		permission: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace, Name: "notification_permission_granted",
			Help: "1 when notification permission was last resolved as granted",
		}),
		scheduled: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "notifications_scheduled_total",
			Help: "Notifications scheduled, by kind",
		}, []string{"kind"}),
		canceled: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "notifications_cancel_calls_total",
			Help: "Cancel calls, by scope (one or all)",
		}, []string{"scope"}),
		pruned: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace, Name: "notifications_pruned_total",
			Help: "Stale local records dropped by sync",
		}),
		fired: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "platform_fired_total",
			Help: "Notifications fired by the platform, by trigger and result",
		}, []string{"trigger", "result"}),
		feedback: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "feedback_triggers_total",
			Help: "Haptic and sound triggers, by channel, kind and result",
		}, []string{"channel", "kind", "result"}),
		pulses: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "haptic_pulses_total",
			Help: "Haptic pulses emitted by the haptics backend",
		}, []string{"primitive", "style"}),
		notifier: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "notifier_events_total",
			Help: "Delivery pipeline events, by event and sink",
		}, []string{"event", "sink"}),
	}
	for _, o := range opts {
		o(c)
	}

	c.reg.MustRegister(c.permission, c.scheduled, c.canceled, c.pruned, c.fired, c.feedback, c.pulses, c.notifier)
	c.reg.MustRegister(c.funcs...)
	if c.runtime {
		c.reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	}
	return c
}

func (c *Collector) Registry() *prom.Registry { return c.reg }

// Run consumes bus events until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	c.log.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			c.Observe(e)
		}
	}
}

// Observe updates collectors for one event. Unknown events are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case notifications.EventPermission:
		if d, ok := e.Data.(notifications.LifecycleEvent); ok {
			v := 0.0
			if d.Granted {
				v = 1
			}
			c.permission.Set(v)
		}
	case notifications.EventScheduled:
		if d, ok := e.Data.(notifications.LifecycleEvent); ok {
			c.scheduled.WithLabelValues(string(d.Kind)).Inc()
		}
	case notifications.EventCanceled:
		if d, ok := e.Data.(notifications.LifecycleEvent); ok {
			scope := "one"
			if d.ID == "" {
				scope = "all"
			}
			c.canceled.WithLabelValues(scope).Inc()
		}
	case notifications.EventSynced:
		if d, ok := e.Data.(notifications.LifecycleEvent); ok {
			c.pruned.Add(float64(d.Count))
		}
	case local.EventFired:
		if d, ok := e.Data.(local.FireEvent); ok {
			c.fired.WithLabelValues(d.Trigger, result(d.OK)).Inc()
		}
	case feedback.EventHaptic:
		if d, ok := e.Data.(feedback.TriggerEvent); ok {
			c.feedback.WithLabelValues("haptic", string(d.Haptic), result(d.Error == "")).Inc()
		}
	case feedback.EventSound:
		if d, ok := e.Data.(feedback.TriggerEvent); ok {
			c.feedback.WithLabelValues("sound", string(d.Sound), result(d.Error == "")).Inc()
		}
	case desktop.EventPulse:
		if d, ok := e.Data.(desktop.Pulse); ok {
			c.pulses.WithLabelValues(d.Primitive, d.Style).Inc()
		}
	case notifier.EventQueued, notifier.EventSent, notifier.EventFailed, notifier.EventDropped, notifier.EventDeduped:
		if d, ok := e.Data.(notifier.NotificationEvent); ok {
			c.notifier.WithLabelValues(strings.TrimPrefix(e.Type, "notifier."), d.Sink).Inc()
		}
	}
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
