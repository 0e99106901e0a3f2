package prometheus

// AppMetrics holds the calcstore application metrics.
type AppMetrics struct {
	// HTTP layer
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	HTTPActiveRequests  GaugeVec

	// Molecule layer
	MoleculeCreatesTotal    CounterVec
	ConversionDuration      HistogramVec
	SimilaritySearchCount   CounterVec
	FingerprintIndexLatency HistogramVec

	// Calculation layer
	CalculationSubmitsTotal CounterVec
	CalculationIngestsTotal CounterVec

	// Orbital cube layer
	CubeRequestsTotal   CounterVec
	CubeComputeDuration HistogramVec
	CubeJobsInFlight    GaugeVec
}

var (
	httpDurationBuckets    = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	convertDurationBuckets = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	cubeDurationBuckets    = []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
)

// NewAppMetrics registers all application metrics.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total",
		"Total HTTP requests", "method", "path", "status")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds",
		"HTTP request duration", httpDurationBuckets, "method", "path")
	m.HTTPActiveRequests = collector.RegisterGauge("http_active_requests",
		"In-flight HTTP requests", "method")

	// outcome: created | deduplicated | rejected
	m.MoleculeCreatesTotal = collector.RegisterCounter("molecule_creates_total",
		"Molecule create attempts by outcome", "outcome")
	m.ConversionDuration = collector.RegisterHistogram("molecule_conversion_duration_seconds",
		"Format conversion duration", convertDurationBuckets, "from", "to")
	m.SimilaritySearchCount = collector.RegisterCounter("similarity_searches_total",
		"Fingerprint similarity searches", "outcome")
	m.FingerprintIndexLatency = collector.RegisterHistogram("fingerprint_index_duration_seconds",
		"Fingerprint indexing latency", httpDurationBuckets, "operation")

	m.CalculationSubmitsTotal = collector.RegisterCounter("calculation_submits_total",
		"Calculation submissions", "task")
	m.CalculationIngestsTotal = collector.RegisterCounter("calculation_ingests_total",
		"Calculation result ingests by final status", "status")

	// mode: sync | async; outcome: hit | miss | placeholder
	m.CubeRequestsTotal = collector.RegisterCounter("cube_requests_total",
		"Orbital cube requests", "mode", "outcome")
	m.CubeComputeDuration = collector.RegisterHistogram("cube_compute_duration_seconds",
		"Orbital cube computation duration", cubeDurationBuckets)
	m.CubeJobsInFlight = collector.RegisterGauge("cube_jobs_in_flight",
		"Cube jobs currently being processed", "worker")

	return m
}

// NewNopAppMetrics returns metrics that record nothing, for tests and
// optional wiring.
func NewNopAppMetrics() *AppMetrics {
	return &AppMetrics{
		HTTPRequestsTotal:       noopCounterVec{},
		HTTPRequestDuration:     noopHistogramVec{},
		HTTPActiveRequests:      noopGaugeVec{},
		MoleculeCreatesTotal:    noopCounterVec{},
		ConversionDuration:      noopHistogramVec{},
		SimilaritySearchCount:   noopCounterVec{},
		FingerprintIndexLatency: noopHistogramVec{},
		CalculationSubmitsTotal: noopCounterVec{},
		CalculationIngestsTotal: noopCounterVec{},
		CubeRequestsTotal:       noopCounterVec{},
		CubeComputeDuration:     noopHistogramVec{},
		CubeJobsInFlight:        noopGaugeVec{},
	}
}
