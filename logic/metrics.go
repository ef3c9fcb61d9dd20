package logic

import (
	"community_fed/shared"
	"github.com/prometheus/client_golang/prometheus"
	"time"
)

type IMetrics interface {
	StartApubRequestIn(label string) IRequestObserver
	StartApubRequestOut(label string) IRequestObserver
	ActivityHandled(kind, outcome string)
	ActorLookup(source string)
	DeliveryFinished(ok bool)
	DeliveriesInFlight(delta int)
	ActivityLogPurged(count int64)
	DbFileSize(size int64)
	ServiceStarted()
}

type IRequestObserver interface {
	Finish()
}

type metrics struct {
	cfg                *shared.Config
	apubRequestsIn     *prometheus.HistogramVec
	apubRequestsOut    *prometheus.HistogramVec
	activitiesHandled  *prometheus.CounterVec
	actorLookups       *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	deliveriesInFlight prometheus.Gauge
	activityLogPurged  prometheus.Counter
	dbFileSize         prometheus.Gauge
	serviceStarted     prometheus.Counter
}

func NewMetrics(cfg *shared.Config) IMetrics {

	res := metrics{}
	res.cfg = cfg

	res.apubRequestsIn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "apub_requests_in_duration",
		Help: "Duration in seconds of ActivityPub requests served.",
	}, []string{"label"})
	res.apubRequestsIn = register(res.apubRequestsIn)

	res.apubRequestsOut = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "apub_requests_out_duration",
		Help: "Duration in seconds of ActivityPub requests made.",
	}, []string{"label"})
	res.apubRequestsOut = register(res.apubRequestsOut)

	res.activitiesHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inbox_activities_handled",
		Help: "Inbound activities by kind and outcome",
	}, []string{"kind", "outcome"})
	res.activitiesHandled = register(res.activitiesHandled)

	res.actorLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "actor_lookups",
		Help: "Actor resolutions by where the record came from",
	}, []string{"source"})
	res.actorLookups = register(res.actorLookups)

	res.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_deliveries",
		Help: "Outbound deliveries by result",
	}, []string{"result"})
	res.deliveries = register(res.deliveries)

	res.deliveriesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbound_deliveries_in_flight",
		Help: "Deliveries currently being sent",
	})
	res.deliveriesInFlight = register(res.deliveriesInFlight)

	res.activityLogPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_log_purged",
		Help: "Handled and undone activity IDs purged by housekeeping",
	})
	res.activityLogPurged = register(res.activityLogPurged)

	res.dbFileSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "db_file_size",
		Help: "Size of the database file in bytes",
	})
	res.dbFileSize = register(res.dbFileSize)

	res.serviceStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_started",
		Help: "Service has started up",
	})
	res.serviceStarted = register(res.serviceStarted)

	return &res
}

// register returns the already registered collector if there is one, so that
// NewMetrics can be called more than once in a process (tests).
func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

type requestObserver struct {
	label string
	start time.Time
	hgvec *prometheus.HistogramVec
}

func (ro *requestObserver) Finish() {
	now := time.Now()
	elapsed := float64(now.UnixMilli()-ro.start.UnixMilli()) / 1000.0
	ro.hgvec.WithLabelValues(ro.label).Observe(elapsed)
}

func (m *metrics) StartApubRequestIn(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.apubRequestsIn}
}

func (m *metrics) StartApubRequestOut(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.apubRequestsOut}
}

func (m *metrics) ActivityHandled(kind, outcome string) {
	m.activitiesHandled.WithLabelValues(kind, outcome).Inc()
}

func (m *metrics) ActorLookup(source string) {
	m.actorLookups.WithLabelValues(source).Inc()
}

func (m *metrics) DeliveryFinished(ok bool) {
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("failed").Inc()
	}
}

func (m *metrics) DeliveriesInFlight(delta int) {
	m.deliveriesInFlight.Add(float64(delta))
}

func (m *metrics) ActivityLogPurged(count int64) {
	m.activityLogPurged.Add(float64(count))
}

func (m *metrics) DbFileSize(size int64) {
	m.dbFileSize.Set(float64(size))
}

func (m *metrics) ServiceStarted() {
	m.serviceStarted.Inc()
}
