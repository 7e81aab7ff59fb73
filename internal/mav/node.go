// Package mav implements the vehicle facade over a MAVLink link using
// gomavlib. It is deliberately thin: gomavlib owns the wire protocol and
// this package only translates between facade calls and dialect messages.
package mav

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// System is a connection to a single autopilot. It implements
// vehicle.Telemetry, vehicle.Action and vehicle.FollowMe.
type System struct {
	node   *gomavlib.Node
	logger *logrus.Logger

	mu sync.RWMutex

	// discovered vehicle address on the link
	targetSystem    uint8
	targetComponent uint8
	vehicleChannel  *gomavlib.Channel
	systemsSeen     map[uint8]struct{}
	discovered      chan struct{}
	discoveredOnce  sync.Once

	// telemetry state, updated by the event loop
	health      vehicle.Health
	armed       bool
	landedState common.MAV_LANDED_STATE
	haveLanded  bool
	position    vehicle.Position
	flightMode  vehicle.FlightMode
	modeSubs    map[int]func(vehicle.FlightMode)
	nextModeSub int

	// last follow target streamed to the vehicle
	lastTarget vehicle.TargetLocation
	haveTarget bool

	// pending command acknowledgements keyed by command ID
	acks map[common.MAV_CMD]chan common.MAV_RESULT

	// pending parameter echoes keyed by parameter name
	paramEchoes map[string]chan float32

	closed chan struct{}
}

// Connect opens the MAVLink link described by url and blocks until the
// first vehicle heartbeat arrives or the context expires. Exactly one
// vehicle is expected on the link; see EnsureSingleSystem.
func Connect(ctx context.Context, url string, systemID int, logger *logrus.Logger) (*System, error) {
	endpoint, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	if systemID <= 0 || systemID > 255 {
		systemID = 245
	}

	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{endpoint},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: byte(systemID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open MAVLink connection %s: %w", url, err)
	}

	s := &System{
		node:        node,
		logger:      logger,
		systemsSeen: make(map[uint8]struct{}),
		discovered:  make(chan struct{}),
		modeSubs:    make(map[int]func(vehicle.FlightMode)),
		acks:        make(map[common.MAV_CMD]chan common.MAV_RESULT),
		paramEchoes: make(map[string]chan float32),
		closed:      make(chan struct{}),
	}

	go s.run()

	logger.Infof("waiting for vehicle heartbeat on %s", url)

	select {
	case <-s.discovered:
	case <-ctx.Done():
		s.Close()
		return nil, fmt.Errorf("vehicle discovery: %w", ctx.Err())
	}

	return s, nil
}

// Close shuts down the link.
func (s *System) Close() {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	s.node.Close()
}

// EnsureSingleSystem errors if more than one vehicle has been heard on the
// link. Follow-me drives exactly one vehicle; a second system means the
// link is shared and commands could reach the wrong aircraft.
func (s *System) EnsureSingleSystem() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch len(s.systemsSeen) {
	case 0:
		return vehicle.ErrNoSystem
	case 1:
		return nil
	default:
		return fmt.Errorf("%w: heard %d systems", vehicle.ErrMultipleSystems, len(s.systemsSeen))
	}
}

// TargetSystem returns the discovered vehicle's MAVLink system ID.
func (s *System) TargetSystem() uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetSystem
}

// run is the event loop: it dispatches every received frame until the node
// closes.
func (s *System) run() {
	for evt := range s.node.Events() {
		switch e := evt.(type) {
		case *gomavlib.EventChannelOpen:
			s.logger.Debugf("channel open: %v", e.Channel)
		case *gomavlib.EventChannelClose:
			s.logger.Debugf("channel close: %v", e.Channel)
		case *gomavlib.EventFrame:
			s.handleFrame(e)
		}
	}
}

func (s *System) handleFrame(e *gomavlib.EventFrame) {
	sysID := e.SystemID()
	compID := e.ComponentID()

	switch msg := e.Message().(type) {
	case *common.MessageHeartbeat:
		s.handleHeartbeat(sysID, compID, msg)
	case *common.MessageSysStatus:
		s.handleSysStatus(msg)
	case *common.MessageGlobalPositionInt:
		s.handleGlobalPosition(msg)
	case *common.MessageLocalPositionNed:
		s.handleLocalPosition(msg)
	case *common.MessageHomePosition:
		s.handleHomePosition(msg)
	case *common.MessageExtendedSysState:
		s.handleExtendedSysState(msg)
	case *common.MessageCommandAck:
		s.handleCommandAck(msg)
	case *common.MessageParamValue:
		s.handleParamValue(msg)
	}

	// Remember which channel the vehicle talks on so outgoing traffic
	// does not spill onto other endpoints of a shared link.
	s.mu.Lock()
	if s.targetSystem != 0 && sysID == s.targetSystem {
		s.vehicleChannel = e.Channel
	}
	s.mu.Unlock()
}

// sendToVehicle writes a message on the channel the vehicle was last heard
// on. Before any frame has arrived there is nothing to aim at, so the
// message goes out on every channel.
func (s *System) sendToVehicle(msg message.Message) error {
	s.mu.RLock()
	ch := s.vehicleChannel
	s.mu.RUnlock()

	if ch != nil {
		return s.node.WriteMessageTo(ch, msg)
	}
	return s.node.WriteMessageAll(msg)
}

// ParseURL converts a connection URL into a gomavlib endpoint
// configuration. Supported schemes:
//
//	udp://[bind_host]:port      listen for the vehicle (SITL default)
//	udpout://host:port          send to a fixed UDP peer
//	tcp://host:port             connect to a TCP bridge
//	serial:///dev/path:baud     direct serial link
func ParseURL(url string) (gomavlib.EndpointConf, error) {
	switch {
	case strings.HasPrefix(url, "udp://"):
		addr := strings.TrimPrefix(url, "udp://")
		if err := validateHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid udp address %q: %w", addr, err)
		}
		if strings.HasPrefix(addr, ":") {
			addr = "0.0.0.0" + addr
		}
		return gomavlib.EndpointUDPServer{Address: addr}, nil

	case strings.HasPrefix(url, "udpout://"):
		addr := strings.TrimPrefix(url, "udpout://")
		if err := validateHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid udpout address %q: %w", addr, err)
		}
		return gomavlib.EndpointUDPClient{Address: addr}, nil

	case strings.HasPrefix(url, "tcp://"):
		addr := strings.TrimPrefix(url, "tcp://")
		if err := validateHostPort(addr); err != nil {
			return nil, fmt.Errorf("invalid tcp address %q: %w", addr, err)
		}
		return gomavlib.EndpointTCPClient{Address: addr}, nil

	case strings.HasPrefix(url, "serial://"):
		rest := strings.TrimPrefix(url, "serial://")
		if rest == "" {
			return nil, fmt.Errorf("empty serial device in %q", url)
		}
		device := rest
		baud := 57600
		if colon := strings.LastIndexByte(rest, ':'); colon > 0 {
			b, err := strconv.Atoi(rest[colon+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid baud rate in %q: %w", url, err)
			}
			device = rest[:colon]
			baud = b
		}
		return gomavlib.EndpointSerial{Device: device, Baud: baud}, nil

	default:
		return nil, fmt.Errorf("unsupported connection URL %q (want udp://, udpout://, tcp:// or serial://)", url)
	}
}

func validateHostPort(addr string) error {
	colon := strings.LastIndexByte(addr, ':')
	if colon < 0 {
		return fmt.Errorf("missing port")
	}
	port, err := strconv.Atoi(addr[colon+1:])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("bad port %q", addr[colon+1:])
	}
	return nil
}

// registerAck installs the acknowledgement channel for cmd. It must be
// called before the command is written so an ack arriving immediately
// still finds its channel. The returned func removes the registration.
func (s *System) registerAck(cmd common.MAV_CMD) (chan common.MAV_RESULT, func()) {
	ch := make(chan common.MAV_RESULT, 1)

	s.mu.Lock()
	s.acks[cmd] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		delete(s.acks, cmd)
		s.mu.Unlock()
	}
}

// waitAck blocks until an acknowledgement for cmd arrives on ch or ctx
// expires.
func (s *System) waitAck(ctx context.Context, cmd common.MAV_CMD, ch chan common.MAV_RESULT) error {
	select {
	case result := <-ch:
		if result != common.MAV_RESULT_ACCEPTED && result != common.MAV_RESULT_IN_PROGRESS {
			return fmt.Errorf("%w: command %d result %d", vehicle.ErrCommandDenied, cmd, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: command %d", vehicle.ErrCommandTimeout, cmd)
	case <-s.closed:
		return fmt.Errorf("connection closed waiting for command %d", cmd)
	}
}

func (s *System) handleCommandAck(msg *common.MessageCommandAck) {
	s.mu.RLock()
	ch, ok := s.acks[msg.Command]
	s.mu.RUnlock()
	if ok {
		select {
		case ch <- msg.Result:
		default:
		}
	}
}

// setParam writes one autopilot parameter and waits for the PARAM_VALUE
// echo confirming it took effect.
func (s *System) setParam(ctx context.Context, name string, value float32) error {
	ch := make(chan float32, 1)

	s.mu.Lock()
	s.paramEchoes[name] = ch
	target := s.targetSystem
	targetComp := s.targetComponent
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.paramEchoes, name)
		s.mu.Unlock()
	}()

	err := s.sendToVehicle(&common.MessageParamSet{
		TargetSystem:    target,
		TargetComponent: targetComp,
		ParamId:         name,
		ParamValue:      value,
		ParamType:       common.MAV_PARAM_TYPE_REAL32,
	})
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}

	select {
	case echoed := <-ch:
		s.logger.Debugf("parameter %s set to %f", name, echoed)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: parameter %s", vehicle.ErrCommandTimeout, name)
	case <-s.closed:
		return fmt.Errorf("connection closed waiting for parameter %s", name)
	}
}

func (s *System) handleParamValue(msg *common.MessageParamValue) {
	s.mu.RLock()
	ch, ok := s.paramEchoes[msg.ParamId]
	s.mu.RUnlock()
	if ok {
		select {
		case ch <- msg.ParamValue:
		default:
		}
	}
}

// commandTimeout is applied to individual command round trips when the
// caller's context has no sooner deadline.
const commandTimeout = 5 * time.Second

func withCommandTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < commandTimeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, commandTimeout)
}
