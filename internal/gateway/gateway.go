// Package gateway owns the link to the pump controller and its simulated stand-in.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"controlling_reservoir/internal/faults"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"

	"golang.org/x/time/rate"
)

// Mode is the connection state reported by the gateway.
type Mode int

const (
	ModeDisconnected Mode = iota
	ModeConnected
	ModeSimulated
)

func (m Mode) String() string {
	switch m {
	case ModeConnected:
		return "connected"
	case ModeSimulated:
		return "simulated"
	default:
		return "disconnected"
	}
}

// Ack acknowledges an actuator command.
type Ack struct {
	ActuatorID string    `json:"actuator_id"`
	Command    string    `json:"command"`
	Response   string    `json:"response"`
	Simulated  bool      `json:"simulated"`
	At         time.Time `json:"at"`
}

// Config for a Device.
type Config struct {
	Port              string
	BaudRate          int
	Timeout           time.Duration
	ReconnectInterval time.Duration
	Simulate          bool
	Seed              uint64
	Reservoirs        []models.Reservoir
	Profiles          map[string]SimProfile
}

const (
	defaultBaudRate          = 115200
	defaultTimeout           = 3 * time.Second
	defaultReconnectInterval = 30 * time.Second
)

type actuatorRef struct {
	reservoirID string
	pump        int
}

// Device serialises every exchange with the controller behind one mutex; the link is not
// safe for concurrent use.
type Device struct {
	mu sync.Mutex

	cfg  Config
	log  *logger.Logger
	open Opener
	list PortLister
	now  func() time.Time

	mode    Mode
	port    string
	conn    *lineConn
	limiter *rate.Limiter
	sim     *simulator

	channels  map[string]int
	resIndex  map[string]int
	actuators map[string]actuatorRef
	states    map[string]bool
}

// New builds a disconnected device. Call Connect before use.
func New(cfg Config, log *logger.Logger) *Device {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = defaultBaudRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if log == nil {
		log = logger.Nop()
	}

	d := &Device{
		cfg:       cfg,
		log:       log,
		open:      openSerial,
		list:      ListPorts,
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Every(cfg.ReconnectInterval), 1),
		sim:       newSimulator(cfg.Seed, cfg.Profiles),
		channels:  make(map[string]int),
		resIndex:  make(map[string]int),
		actuators: make(map[string]actuatorRef),
		states:    make(map[string]bool),
	}
	for i, r := range cfg.Reservoirs {
		d.channels[r.ID] = r.Channel
		d.resIndex[r.ID] = i
		for _, a := range r.Actuators {
			d.actuators[a.ID] = actuatorRef{reservoirID: r.ID, pump: a.Pump}
			d.states[a.ID] = false
		}
	}
	return d
}

// Mode reports the current connection state. A hardware link that was lost reads as disconnected.
func (d *Device) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.mode == ModeConnected && d.conn == nil {
		return ModeDisconnected
	}
	return d.mode
}

// Port returns the serial port in use, empty in simulated mode.
func (d *Device) Port() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// Connect probes the preferred port, the configured port and then enumerated devices.
// When none answers the device falls back to simulated mode.
func (d *Device) Connect(ctx context.Context, preferredPort string) (Mode, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		_ = d.conn.close()
		d.conn = nil
	}

	if d.cfg.Simulate {
		d.enterSimulation("simulation requested")
		return d.mode, nil
	}

	explicit := []string{preferredPort, d.cfg.Port}
	for _, port := range candidatePorts(explicit, d.list) {
		if err := ctx.Err(); err != nil {
			d.mode = ModeDisconnected
			return d.mode, err
		}
		requireAnswer := port != preferredPort && port != d.cfg.Port
		if err := d.dial(ctx, port, requireAnswer); err != nil {
			d.log.Infow("gateway_port_rejected", "port", port, "err", err)
			continue
		}
		d.mode = ModeConnected
		d.log.Infow("gateway_connected", "port", port, "baud", d.cfg.BaudRate)
		return d.mode, nil
	}

	d.enterSimulation("no controller found")
	return d.mode, nil
}

// Disconnect closes the link. Later calls report NotConnected until Connect runs again.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var err error
	if d.conn != nil {
		err = d.conn.close()
		d.conn = nil
	}
	d.mode = ModeDisconnected
	d.port = ""
	return err
}

// ReadLevel asks the controller for the reservoir's sensor channel.
func (d *Device) ReadLevel(ctx context.Context, reservoirID string) (models.Reading, error) {
	const op = "read_level"

	channel, ok := d.channels[reservoirID]
	if !ok {
		return models.Reading{}, faults.New(faults.KindInvalidConfiguration, op, fmt.Errorf("unknown reservoir %q", reservoirID))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == ModeSimulated {
		level := d.sim.level(reservoirID, d.resIndex[reservoirID], d.now(), d.activePumps(reservoirID))
		return d.reading(reservoirID, level), nil
	}

	if err := d.ensureLink(ctx, op); err != nil {
		return models.Reading{}, err
	}
	d.conn.discard()
	if err := d.conn.writeLine(readLevelCommand(channel)); err != nil {
		return models.Reading{}, d.dropLink(op, err)
	}

	deadline := d.deadline(ctx)
	var unparsed []string
	for {
		line, err := d.conn.readLine(ctx, deadline)
		if err != nil {
			switch {
			case errors.Is(err, errLineTimeout) && len(unparsed) > 0:
				return models.Reading{}, faults.New(faults.KindParseFailure, op, fmt.Errorf("unrecognised response %q", unparsed[0]))
			case errors.Is(err, errLineTimeout):
				return models.Reading{}, faults.New(faults.KindTimeout, op, fmt.Errorf("no level for channel %d within %s", channel, d.cfg.Timeout))
			case ctx.Err() != nil:
				return models.Reading{}, faults.New(faults.KindTimeout, op, err)
			default:
				return models.Reading{}, d.dropLink(op, err)
			}
		}
		ch, level, ok := parseLevel(line)
		if !ok {
			if _, isAck := parseAck(line); !isAck {
				unparsed = append(unparsed, line)
			}
			continue
		}
		if ch == channel || ch == legacyChannel || channel <= 0 {
			return d.reading(reservoirID, level), nil
		}
	}
}

// SetActuator switches one pump and waits for the controller's ACK line.
// Commands are level-triggered, so repeating one is harmless.
func (d *Device) SetActuator(ctx context.Context, actuatorID string, on bool, duration time.Duration) (Ack, error) {
	const op = "set_actuator"

	ref, ok := d.actuators[actuatorID]
	if !ok {
		return Ack{}, faults.New(faults.KindInvalidConfiguration, op, fmt.Errorf("unknown actuator %q", actuatorID))
	}
	cmd := pumpCommand(ref.pump, on, duration)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == ModeSimulated {
		d.states[actuatorID] = on
		return Ack{ActuatorID: actuatorID, Command: cmd, Response: "SIMULATED", Simulated: true, At: d.now()}, nil
	}

	if err := d.ensureLink(ctx, op); err != nil {
		return Ack{}, err
	}
	d.conn.discard()
	if err := d.conn.writeLine(cmd); err != nil {
		return Ack{}, d.dropLink(op, err)
	}

	deadline := d.deadline(ctx)
	for {
		line, err := d.conn.readLine(ctx, deadline)
		if err != nil {
			if errors.Is(err, errLineTimeout) || ctx.Err() != nil {
				return Ack{}, faults.New(faults.KindNoAck, op, fmt.Errorf("%s: no ACK within %s", cmd, d.cfg.Timeout))
			}
			return Ack{}, d.dropLink(op, err)
		}
		if resp, ok := parseAck(line); ok {
			d.states[actuatorID] = on
			return Ack{ActuatorID: actuatorID, Command: cmd, Response: resp, At: d.now()}, nil
		}
		if msg, ok := parseDeviceError(line); ok {
			return Ack{}, faults.New(faults.KindNoAck, op, fmt.Errorf("%s rejected: %s", cmd, msg))
		}
	}
}

// PumpStatus queries the controller for the state of every pump it drives, keyed by pump number.
func (d *Device) PumpStatus(ctx context.Context) (map[int]bool, error) {
	const op = "pump_status"

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mode == ModeSimulated {
		out := make(map[int]bool, len(d.actuators))
		for id, ref := range d.actuators {
			out[ref.pump] = out[ref.pump] || d.states[id]
		}
		return out, nil
	}

	if err := d.ensureLink(ctx, op); err != nil {
		return nil, err
	}
	d.conn.discard()
	if err := d.conn.writeLine(cmdPumpStatus); err != nil {
		return nil, d.dropLink(op, err)
	}
	deadline := d.deadline(ctx)
	for {
		line, err := d.conn.readLine(ctx, deadline)
		if err != nil {
			if errors.Is(err, errLineTimeout) || ctx.Err() != nil {
				return nil, faults.New(faults.KindTimeout, op, err)
			}
			return nil, d.dropLink(op, err)
		}
		if st, ok := parseStatus(line); ok {
			return st, nil
		}
	}
}

// ActuatorStates returns the last commanded state of every actuator.
func (d *Device) ActuatorStates() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]bool, len(d.states))
	for k, v := range d.states {
		out[k] = v
	}
	return out
}

// dial opens a port and performs the PING handshake. Ports found by enumeration must
// answer; explicitly configured ports are trusted even when the firmware stays silent.
func (d *Device) dial(ctx context.Context, port string, requireAnswer bool) error {
	link, err := d.open(port, d.cfg.BaudRate)
	if err != nil {
		return err
	}
	conn := newLineConn(link)
	if err := conn.writeLine(cmdPing); err != nil {
		_ = conn.close()
		return fmt.Errorf("ping %q: %w", port, err)
	}
	_, err = conn.readLine(ctx, time.Now().Add(d.cfg.Timeout))
	if err != nil && (requireAnswer || !errors.Is(err, errLineTimeout)) {
		_ = conn.close()
		return fmt.Errorf("handshake on %q: %w", port, err)
	}
	d.conn = conn
	d.port = port
	return nil
}

// ensureLink reopens a lost link at most once per reconnect interval.
func (d *Device) ensureLink(ctx context.Context, op string) error {
	if d.conn != nil {
		return nil
	}
	if d.mode != ModeConnected || d.port == "" {
		return faults.New(faults.KindNotConnected, op, nil)
	}
	if !d.limiter.Allow() {
		return faults.New(faults.KindNotConnected, op, errors.New("reconnect deferred"))
	}
	if err := d.dial(ctx, d.port, false); err != nil {
		d.log.Warnw("gateway_reconnect_failed", "port", d.port, "err", err)
		return faults.New(faults.KindNotConnected, op, err)
	}
	d.log.Infow("gateway_reconnected", "port", d.port)
	return nil
}

func (d *Device) dropLink(op string, cause error) error {
	if d.conn != nil {
		_ = d.conn.close()
		d.conn = nil
	}
	d.log.Warnw("gateway_link_lost", "port", d.port, "op", op, "err", cause)
	return faults.New(faults.KindNotConnected, op, cause)
}

func (d *Device) enterSimulation(reason string) {
	d.mode = ModeSimulated
	d.port = ""
	d.log.Warnw("gateway_simulated_mode", "reason", reason)
}

func (d *Device) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(d.cfg.Timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		return dl
	}
	return deadline
}

func (d *Device) activePumps(reservoirID string) int {
	n := 0
	for id, ref := range d.actuators {
		if ref.reservoirID == reservoirID && d.states[id] {
			n++
		}
	}
	return n
}

func (d *Device) reading(reservoirID string, level float64) models.Reading {
	states := make(map[string]bool)
	for id, ref := range d.actuators {
		if ref.reservoirID == reservoirID {
			states[id] = d.states[id]
		}
	}
	return models.Reading{
		ReservoirID: reservoirID,
		Timestamp:   d.now().UTC(),
		Level:       level,
		Actuators:   states,
	}
}
