package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	backend         string
	maxClients      int
	handshakeTO     time.Duration
	clientReadTO    time.Duration
	mdnsEnable      bool
	mdnsName        string

	// FlexCAN backend
	memPath      string
	canBase      uint64
	clockHz      uint
	bitRate      uint
	clockSrc     string
	loopback     bool
	selfRx       bool
	rxMailboxes  int
	txMailboxes  int
	pollInterval time.Duration

	// SLCAN backend
	serialDev    string
	baud         int
	serialReadTO time.Duration
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", ":20000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	backend := flag.String("backend", "flexcan", "CAN backend: flexcan|slcan")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	handshakeTO := flag.Duration("handshake-timeout", 3*time.Second, "Client handshake timeout")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default flexcan-bridge-<hostname>)")

	memPath := flag.String("mem-path", "sim", "Register block source: 'sim' or a memory device path (e.g. /dev/mem)")
	canBase := flag.String("can-base", "0x40024000", "Physical base address of the FlexCAN register block (hex)")
	clockHz := flag.Uint("clock-hz", 8_000_000, "Protocol engine clock frequency in Hz")
	bitRate := flag.Uint("bit-rate", 500_000, "CAN bus bit rate in Hz")
	clockSrc := flag.String("clock-source", "oscillator", "Protocol engine clock: oscillator|peripheral")
	loopback := flag.Bool("loopback", false, "Enable internal loop-back (ignores the RX pin)")
	selfRx := flag.Bool("self-rx", false, "Receive frames this node transmitted")
	rxMailboxes := flag.Int("rx-mailboxes", 16, "Number of receive mailboxes (configured first)")
	txMailboxes := flag.Int("tx-mailboxes", 8, "Number of transmit mailboxes (configured after the receive ones)")
	pollInterval := flag.Duration("poll-interval", 200*time.Microsecond, "Sleep between empty mailbox sweeps")

	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.backend = *backend
	cfg.maxClients = *maxClients
	cfg.handshakeTO = *handshakeTO
	cfg.clientReadTO = *clientReadTO
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.memPath = *memPath
	cfg.clockHz = *clockHz
	cfg.bitRate = *bitRate
	cfg.clockSrc = *clockSrc
	cfg.loopback = *loopback
	cfg.selfRx = *selfRx
	cfg.rxMailboxes = *rxMailboxes
	cfg.txMailboxes = *txMailboxes
	cfg.pollInterval = *pollInterval
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO

	if base, err := parseBase(*canBase); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	} else {
		cfg.canBase = base
	}

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func parseBase(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid can-base %q: %w", s, err)
	}
	return v, nil
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners, only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "flexcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.handshakeTO <= 0 {
		return fmt.Errorf("handshake-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	if c.backend == "flexcan" {
		switch c.clockSrc {
		case "oscillator", "peripheral":
		default:
			return fmt.Errorf("invalid clock-source: %s", c.clockSrc)
		}
		if c.clockHz == 0 {
			return fmt.Errorf("clock-hz must be > 0")
		}
		if c.bitRate == 0 {
			return fmt.Errorf("bit-rate must be > 0")
		}
		if c.rxMailboxes < 1 {
			return fmt.Errorf("rx-mailboxes must be >= 1 (got %d)", c.rxMailboxes)
		}
		if c.txMailboxes < 1 {
			return fmt.Errorf("tx-mailboxes must be >= 1 (got %d)", c.txMailboxes)
		}
		if n := c.rxMailboxes + c.txMailboxes; n > maxMailboxTotal {
			return fmt.Errorf("rx-mailboxes + tx-mailboxes must be <= %d (got %d)", maxMailboxTotal, n)
		}
		if c.pollInterval <= 0 {
			return fmt.Errorf("poll-interval must be > 0")
		}
		if c.memPath == "" {
			return fmt.Errorf("mem-path must not be empty")
		}
	}
	if c.backend == "slcan" {
		if c.baud <= 0 {
			return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
		}
		if c.serialReadTO <= 0 {
			return fmt.Errorf("serial-read-timeout must be > 0")
		}
	}
	return nil
}

// applyEnvOverrides maps FLEXCAN_BRIDGE_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored; durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, min int, dst *int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("listen", "FLEXCAN_BRIDGE_LISTEN", &c.listenAddr)
	str("log-format", "FLEXCAN_BRIDGE_LOG_FORMAT", &c.logFormat)
	str("log-level", "FLEXCAN_BRIDGE_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FLEXCAN_BRIDGE_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	num("hub-buffer", "FLEXCAN_BRIDGE_HUB_BUFFER", 1, &c.hubBuffer)
	str("hub-policy", "FLEXCAN_BRIDGE_HUB_POLICY", &c.hubPolicy)
	str("backend", "FLEXCAN_BRIDGE_BACKEND", &c.backend)
	num("max-clients", "FLEXCAN_BRIDGE_MAX_CLIENTS", 0, &c.maxClients)
	dur("handshake-timeout", "FLEXCAN_BRIDGE_HANDSHAKE_TIMEOUT", &c.handshakeTO)
	dur("client-read-timeout", "FLEXCAN_BRIDGE_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	dur("log-metrics-interval", "FLEXCAN_BRIDGE_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	boolean("mdns-enable", "FLEXCAN_BRIDGE_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "FLEXCAN_BRIDGE_MDNS_NAME", &c.mdnsName)

	str("mem-path", "FLEXCAN_BRIDGE_MEM_PATH", &c.memPath)
	if _, ok := set["can-base"]; !ok {
		if v, ok := get("FLEXCAN_BRIDGE_CAN_BASE"); ok && v != "" {
			if base, err := parseBase(v); err == nil {
				c.canBase = base
			} else if firstErr == nil {
				firstErr = fmt.Errorf("invalid FLEXCAN_BRIDGE_CAN_BASE: %w", err)
			}
		}
	}
	if _, ok := set["clock-hz"]; !ok {
		if v, ok := get("FLEXCAN_BRIDGE_CLOCK_HZ"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
				c.clockHz = uint(n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FLEXCAN_BRIDGE_CLOCK_HZ: %w", err)
			}
		}
	}
	if _, ok := set["bit-rate"]; !ok {
		if v, ok := get("FLEXCAN_BRIDGE_BIT_RATE"); ok && v != "" {
			if n, err := strconv.ParseUint(v, 10, 32); err == nil && n > 0 {
				c.bitRate = uint(n)
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid FLEXCAN_BRIDGE_BIT_RATE: %w", err)
			}
		}
	}
	str("clock-source", "FLEXCAN_BRIDGE_CLOCK_SOURCE", &c.clockSrc)
	boolean("loopback", "FLEXCAN_BRIDGE_LOOPBACK", &c.loopback)
	boolean("self-rx", "FLEXCAN_BRIDGE_SELF_RX", &c.selfRx)
	num("rx-mailboxes", "FLEXCAN_BRIDGE_RX_MAILBOXES", 1, &c.rxMailboxes)
	num("tx-mailboxes", "FLEXCAN_BRIDGE_TX_MAILBOXES", 1, &c.txMailboxes)
	dur("poll-interval", "FLEXCAN_BRIDGE_POLL_INTERVAL", &c.pollInterval)

	str("serial", "FLEXCAN_BRIDGE_SERIAL", &c.serialDev)
	num("baud", "FLEXCAN_BRIDGE_BAUD", 1, &c.baud)
	dur("serial-read-timeout", "FLEXCAN_BRIDGE_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	return firstErr
}
