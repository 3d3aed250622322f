package flexcan

import (
	"fmt"
	"log/slog"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/logging"
)

// Mode is the controller's position in the hardware-mandated bring-up
// sequence. Open walks Disabled → Reset → Enabled → Frozen → Running; every
// configuration register write happens in Frozen.
type Mode uint8

const (
	ModeDisabled Mode = iota
	ModeReset
	ModeEnabled
	ModeFrozen
	ModeRunning
)

func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeReset:
		return "reset"
	case ModeEnabled:
		return "enabled"
	case ModeFrozen:
		return "frozen"
	case ModeRunning:
		return "running"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// Controller drives one FlexCAN peripheral. It exclusively owns its register
// block; all operations are synchronous and polled, there is no interrupt
// plumbing. Transmit and Receive on different mailboxes are independent, but
// the Controller itself must not be shared between goroutines without
// external serialization of same-mailbox access.
type Controller struct {
	regs       RegisterBlock
	wait       WaitStrategy
	logger     *slog.Logger
	mode       Mode
	maxMailbox int
	timing     BitTiming
}

// Option customizes Open.
type Option func(*Controller)

// WithWaitStrategy overrides the acknowledge poll budget (tests and
// simulated blocks use this to yield between polls).
func WithWaitStrategy(w WaitStrategy) Option { return func(c *Controller) { c.wait = w } }

// WithLogger overrides the package-global logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Open validates the settings, then brings the controller through the full
// mode sequence: soft reset with the clock source selected while disabled,
// enable, freeze, global and per-mailbox configuration, and finally leaving
// freeze into normal operation. The mailbox headers are applied in order;
// their count sets the max-mailbox register field.
func Open(regs RegisterBlock, s Settings, headers []Header, opts ...Option) (*Controller, error) {
	if n := len(headers); n == 0 || n > MaxMailboxes {
		return nil, fmt.Errorf("%w: %d mailbox headers (want 1..%d)", ErrSettings, len(headers), MaxMailboxes)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	timing, err := CalculateBitTiming(s.SourceFrequency, s.BitRate)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		regs:       regs,
		logger:     logging.L(),
		maxMailbox: len(headers) - 1,
		timing:     timing,
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.reset(s.ClockSource); err != nil {
		return nil, err
	}
	if err := c.enable(); err != nil {
		return nil, err
	}
	if err := c.freeze(); err != nil {
		return nil, err
	}
	c.configure(s, headers)
	if err := c.run(); err != nil {
		return nil, err
	}
	c.logger.Info("flexcan_running",
		"bit_rate", s.BitRate,
		"clock", s.ClockSource.String(),
		"presdiv", timing.PresDiv,
		"tq_per_bit", timing.TimeQuanta(),
		"mailboxes", len(headers),
		"loopback", s.Loopback,
	)
	return c, nil
}

// MaxMailbox returns the highest configured mailbox index.
func (c *Controller) MaxMailbox() int { return c.maxMailbox }

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode { return c.mode }

// Timing returns the derived bit timing.
func (c *Controller) Timing() BitTiming { return c.timing }

// reset selects the clock source and soft-resets the controller. The clock
// source field is writable only while the module is disabled, and the soft
// reset must run before the new source takes effect, hence the
// disable/select/enable/reset/disable dance.
func (c *Controller) reset(src ClockSource) error {
	c.mode = ModeDisabled

	c.regs.Write(regMCR, c.regs.Read(regMCR)|mcrMDIS)
	if err := c.wait.poll("low-power ack after disable", func() bool {
		return c.regs.Read(regMCR)&mcrLPMACK != 0
	}); err != nil {
		return err
	}

	ctrl1 := c.regs.Read(regCTRL1)
	if src == ClockPeripheral {
		ctrl1 |= ctrl1CLKSRC
	} else {
		ctrl1 &^= ctrl1CLKSRC
	}
	c.regs.Write(regCTRL1, ctrl1)

	c.regs.Write(regMCR, c.regs.Read(regMCR)&^uint32(mcrMDIS))
	if err := c.wait.poll("low-power ack clear after enable", func() bool {
		return c.regs.Read(regMCR)&mcrLPMACK == 0
	}); err != nil {
		return err
	}

	c.regs.Write(regMCR, c.regs.Read(regMCR)|mcrSOFTRST)
	if err := c.wait.poll("soft reset self-clear", func() bool {
		return c.regs.Read(regMCR)&mcrSOFTRST == 0
	}); err != nil {
		return err
	}

	c.regs.Write(regMCR, c.regs.Read(regMCR)|mcrMDIS)
	if err := c.wait.poll("low-power ack after re-disable", func() bool {
		return c.regs.Read(regMCR)&mcrLPMACK != 0
	}); err != nil {
		return err
	}

	c.mode = ModeReset
	return nil
}

// enable clocks the controller without making it configurable yet.
func (c *Controller) enable() error {
	c.regs.Write(regMCR, c.regs.Read(regMCR)&^uint32(mcrMDIS))
	if err := c.wait.poll("low-power ack clear", func() bool {
		return c.regs.Read(regMCR)&mcrLPMACK == 0
	}); err != nil {
		return err
	}
	c.mode = ModeEnabled
	return nil
}

// freeze suspends bus activity and unlocks the configuration registers.
func (c *Controller) freeze() error {
	c.regs.Write(regMCR, c.regs.Read(regMCR)|mcrFRZ|mcrHALT)
	if err := c.wait.poll("freeze ack", func() bool {
		return c.regs.Read(regMCR)&mcrFRZACK != 0
	}); err != nil {
		return err
	}
	c.mode = ModeFrozen
	return nil
}

// configure writes the global and per-mailbox configuration. Only legal in
// freeze mode.
func (c *Controller) configure(s Settings, headers []Header) {
	mcr := c.regs.Read(regMCR)
	mcr &^= uint32(mcrRFEN | mcrSRXDIS | mcrIRMQ | mcrDMA | mcrMAXMB)
	if s.FIFOEnabled {
		mcr |= mcrRFEN
	}
	if !s.SelfReception {
		mcr |= mcrSRXDIS
	}
	if s.IndividualMasking {
		mcr |= mcrIRMQ
	}
	if s.DMAEnable {
		mcr |= mcrDMA
	}
	mcr |= uint32(c.maxMailbox) & mcrMAXMB
	c.regs.Write(regMCR, mcr)

	ctrl1 := c.regs.Read(regCTRL1) & ctrl1CLKSRC // keep the source selected during reset
	ctrl1 |= c.timing.ctrl1Bits()
	if s.Loopback {
		ctrl1 |= ctrl1LPB
	}
	c.regs.Write(regCTRL1, ctrl1)

	// Accept-all receive masks; individual masks stay at their reset value
	// until the caller narrows them.
	c.regs.Write(regRXMGMASK, 0)
	c.regs.Write(regRX14MASK, 0)
	c.regs.Write(regRX15MASK, 0)

	// Start every mailbox from a well-defined, hardware-legal code: force
	// the code field inactive, then run the regular write protocol with a
	// filler frame so all header fields hold known values.
	filler := can.Frame{}
	for mb, h := range headers {
		c.regs.Write(mailboxCS(mb), 0) // rx-inactive
		c.writeMailbox(mb, h, filler)
	}
}

// run leaves freeze mode and starts bus participation.
func (c *Controller) run() error {
	c.regs.Write(regMCR, c.regs.Read(regMCR)&^uint32(mcrFRZ|mcrHALT))
	if err := c.wait.poll("freeze ack clear", func() bool {
		return c.regs.Read(regMCR)&mcrFRZACK == 0
	}); err != nil {
		return err
	}
	c.mode = ModeRunning
	return nil
}
