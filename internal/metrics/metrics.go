package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/s32kdev/go-flexcan/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	FlexCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_rx_frames_total",
		Help: "Total CAN frames read out of FlexCAN mailboxes.",
	})
	FlexCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_tx_frames_total",
		Help: "Total CAN frames armed for transmission in FlexCAN mailboxes.",
	})
	FlexCANTxBufferFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_tx_buffer_full_total",
		Help: "Transmit attempts that found no inactive mailbox.",
	})
	FlexCANBusyRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexcan_mailbox_busy_retries_total",
		Help: "Control word re-reads taken while a mailbox busy bit was set.",
	})
	SlcanRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slcan_rx_frames_total",
		Help: "Total CAN frames decoded from the SLCAN serial link.",
	})
	SlcanTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slcan_tx_frames_total",
		Help: "Total CAN frames written to the SLCAN serial link.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_frames_total",
		Help: "Total CAN frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_frames_total",
		Help: "Total CAN frames sent to TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Total CAN frames dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total clients disconnected by the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total client connection attempts rejected (e.g. max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of connected clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrTCPRead         = "tcp_read"
	ErrTCPWrite        = "tcp_write"
	ErrHandshake       = "handshake"
	ErrSlcanRead       = "slcan_read"
	ErrSlcanWrite      = "slcan_write"
	ErrSlcanOverflow   = "slcan_tx_overflow"
	ErrFlexCANTx       = "flexcan_tx"
	ErrFlexCANRx       = "flexcan_rx"
	ErrFlexCANOverflow = "flexcan_tx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics plus a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap periodic logging without scraping the
// Prometheus registry in-process.
var (
	localFlexCANRx  uint64
	localFlexCANTx  uint64
	localBufferFull uint64
	localBusyRetry  uint64
	localSlcanRx    uint64
	localSlcanTx    uint64
	localTCPRx      uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubReject  uint64
	localHubClients uint64
	localErrors     uint64
	localMalformed  uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	FlexCANRx    uint64
	FlexCANTx    uint64
	TxBufferFull uint64
	BusyRetries  uint64
	SlcanRx      uint64
	SlcanTx      uint64
	TCPRx        uint64
	TCPTx        uint64
	HubDrops     uint64
	HubKicks     uint64
	HubRejects   uint64
	HubClients   uint64
	Errors       uint64
	Malformed    uint64
}

func Snap() Snapshot {
	return Snapshot{
		FlexCANRx:    atomic.LoadUint64(&localFlexCANRx),
		FlexCANTx:    atomic.LoadUint64(&localFlexCANTx),
		TxBufferFull: atomic.LoadUint64(&localBufferFull),
		BusyRetries:  atomic.LoadUint64(&localBusyRetry),
		SlcanRx:      atomic.LoadUint64(&localSlcanRx),
		SlcanTx:      atomic.LoadUint64(&localSlcanTx),
		TCPRx:        atomic.LoadUint64(&localTCPRx),
		TCPTx:        atomic.LoadUint64(&localTCPTx),
		HubDrops:     atomic.LoadUint64(&localHubDrop),
		HubKicks:     atomic.LoadUint64(&localHubKick),
		HubRejects:   atomic.LoadUint64(&localHubReject),
		HubClients:   atomic.LoadUint64(&localHubClients),
		Errors:       atomic.LoadUint64(&localErrors),
		Malformed:    atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncFlexCANRx() {
	FlexCANRxFrames.Inc()
	atomic.AddUint64(&localFlexCANRx, 1)
}

func IncFlexCANTx() {
	FlexCANTxFrames.Inc()
	atomic.AddUint64(&localFlexCANTx, 1)
}

func IncTxBufferFull() {
	FlexCANTxBufferFull.Inc()
	atomic.AddUint64(&localBufferFull, 1)
}

func IncBusyRetry() {
	FlexCANBusyRetries.Inc()
	atomic.AddUint64(&localBusyRetry, 1)
}

func IncSlcanRx() {
	SlcanRxFrames.Inc()
	atomic.AddUint64(&localSlcanRx, 1)
}

func IncSlcanTx() {
	SlcanTxFrames.Inc()
	atomic.AddUint64(&localSlcanTx, 1)
}

func IncTCPRx() {
	TCPRxFrames.Inc()
	atomic.AddUint64(&localTCPRx, 1)
}

func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers the error label
// series so the first error does not pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{
		ErrTCPRead, ErrTCPWrite, ErrHandshake,
		ErrSlcanRead, ErrSlcanWrite, ErrSlcanOverflow,
		ErrFlexCANTx, ErrFlexCANRx, ErrFlexCANOverflow,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // not wired yet; report ready so the endpoint doesn't flap
		return true
	}
	return fn()
}
