package modbusmirror

import (
	"errors"
	"math"
	"time"

	"github.com/berfenger/vedirect2mqtt/internal/core/domain"
	"github.com/berfenger/vedirect2mqtt/pkg/vedirect"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// ChargeLimitClient is the blocking view of the charge limit actor used by
// server goroutines.
type ChargeLimitClient interface {
	GetChargeLimit() (domain.GetChargeLimitResponse, error)
	SetChargeLimit(value float64) (domain.SetChargeLimitResponse, error)
}

// Handler exposes the charge current limit as a single holding register
// holding the raw un16 device value (0.1 A). The same address is readable as
// an input register.
type Handler struct {
	unitId   uint8
	address  uint16
	register vedirect.Register
	client   ChargeLimitClient
	logger   *zap.Logger
}

func NewHandler(unitId uint8, address uint16, client ChargeLimitClient, logger *zap.Logger) *Handler {
	return &Handler{
		unitId:   unitId,
		address:  address,
		register: vedirect.ChargeCurrentLimit,
		client:   client,
		logger:   logger,
	}
}

func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	return nil, modbus.ErrIllegalFunction
}

func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if err := h.check(req.UnitId, req.Addr, req.Quantity); err != nil {
		return nil, err
	}
	if req.IsWrite {
		return nil, h.write(req.ClientAddr, req.Args[0])
	}
	raw, err := h.read()
	if err != nil {
		return nil, err
	}
	return []uint16{raw}, nil
}

func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if err := h.check(req.UnitId, req.Addr, req.Quantity); err != nil {
		return nil, err
	}
	raw, err := h.read()
	if err != nil {
		return nil, err
	}
	return []uint16{raw}, nil
}

func (h *Handler) check(unitId uint8, addr, quantity uint16) error {
	if unitId != h.unitId {
		return modbus.ErrGWTargetFailedToRespond
	}
	if addr != h.address || quantity != 1 {
		return modbus.ErrIllegalDataAddress
	}
	return nil
}

func (h *Handler) read() (uint16, error) {
	resp, err := h.client.GetChargeLimit()
	if err == nil {
		err = resp.GetResponseError()
	}
	if err != nil {
		h.logger.Warn("modbus: read charge limit failed", zap.Error(err))
		return 0, modbus.ErrServerDeviceFailure
	}
	if !resp.State.HasValue {
		return 0, modbus.ErrServerDeviceBusy
	}
	return uint16(math.Round(resp.State.CurrentValue / h.register.Scale)), nil
}

func (h *Handler) write(clientAddr string, raw uint16) error {
	value := float64(raw) * h.register.Scale
	h.logger.Info("modbus: setpoint", zap.String("client", clientAddr), zap.Float64("value", value))
	resp, err := h.client.SetChargeLimit(value)
	if err == nil {
		err = resp.GetResponseError()
	}
	if err == nil {
		return nil
	}
	h.logger.Warn("modbus: setpoint failed", zap.Float64("value", value), zap.Error(err))
	var rangeErr *vedirect.OutOfRangeError
	if errors.As(err, &rangeErr) {
		return modbus.ErrIllegalDataValue
	}
	return modbus.ErrServerDeviceFailure
}

type Server struct {
	server *modbus.ModbusServer
}

// NewServer creates a Modbus TCP server on url (tcp://host:port) serving h.
func NewServer(url string, h *Handler) (*Server, error) {
	server, err := modbus.NewServer(&modbus.ServerConfiguration{
		URL:        url,
		Timeout:    30 * time.Second,
		MaxClients: 5,
	}, h)
	if err != nil {
		return nil, err
	}
	return &Server{server: server}, nil
}

func (s *Server) Start() error {
	return s.server.Start()
}

func (s *Server) Stop() error {
	return s.server.Stop()
}

// ensure interface compliance
var _ modbus.RequestHandler = (*Handler)(nil)
