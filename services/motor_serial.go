package services

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	serial "go.bug.st/serial"
	"go.uber.org/zap"

	"homerobot/log"
)

var errPortClosed = errors.New("serial port not open")

// SerialMotor writes wheel powers to a motor board over a serial line.
//
//	M,<left>,<right>\n   set powers in [-1, 1]
//	S\n                  stop both motors
type SerialMotor struct {
	mu      sync.Mutex
	port    io.WriteCloser
	dev     string
	stopped bool
	logger  *zap.Logger
}

// OpenSerialMotor opens dev at baud.
func OpenSerialMotor(dev string, baud int) (*SerialMotor, error) {
	p, err := serial.Open(dev, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial %s: %w", dev, err)
	}
	return NewSerialMotor(p, dev), nil
}

// NewSerialMotor wraps an already open port.
func NewSerialMotor(port io.WriteCloser, dev string) *SerialMotor {
	return &SerialMotor{
		port:   port,
		dev:    dev,
		logger: log.Named("serial-motor").With(zap.String("device", dev)),
	}
}

// ListSerialPorts returns the serial devices present on this machine.
func ListSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (m *SerialMotor) Drive(left, right float32) error {
	line := "M," + strconv.FormatFloat(float64(left), 'f', 3, 32) +
		"," + strconv.FormatFloat(float64(right), 'f', 3, 32)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = false
	return m.writeLine(line)
}

func (m *SerialMotor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	if err := m.writeLine("S"); err != nil {
		return err
	}
	m.stopped = true
	return nil
}

// writeLine drops the port after a write error so Connected reports the loss.
// Callers hold mu.
func (m *SerialMotor) writeLine(line string) error {
	if m.port == nil {
		return errPortClosed
	}
	if _, err := m.port.Write(append([]byte(line), '\n')); err != nil {
		m.logger.Error("serial write failed", zap.Error(err))
		_ = m.port.Close()
		m.port = nil
		return fmt.Errorf("write %s: %w", m.dev, err)
	}
	return nil
}

func (m *SerialMotor) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.port != nil
}

func (m *SerialMotor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	return err
}
