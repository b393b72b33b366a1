package services

import (
	"fmt"

	"go.uber.org/zap"

	"homerobot/log"
	"homerobot/models"
	"homerobot/transport"
)

// MotorSink - anything that turns wheel powers into motion.
// Stop must be safe to call repeatedly.
type MotorSink interface {
	Drive(left, right float32) error
	Stop() error
	Connected() bool
}

// RemoteMotor drives a robot on the other end of a channel with DriveMotor
// messages. It is connected while the channel has at least one peer.
type RemoteMotor struct {
	ch     transport.Channel
	logger *zap.Logger
}

func NewRemoteMotor(ch transport.Channel) *RemoteMotor {
	return &RemoteMotor{ch: ch, logger: log.Named("remote-motor")}
}

func (m *RemoteMotor) Drive(left, right float32) error {
	data, err := models.Encode(models.DriveMotor{LeftPower: left, RightPower: right})
	if err != nil {
		return err
	}
	if err := m.ch.Send(data, transport.BestEffort); err != nil {
		return fmt.Errorf("send drive command: %w", err)
	}
	return nil
}

// Stop sends zero power. The stop is sent reliably so it survives a lossy link.
func (m *RemoteMotor) Stop() error {
	data, err := models.Encode(models.DriveMotor{})
	if err != nil {
		return err
	}
	if err := m.ch.Send(data, transport.Reliable); err != nil {
		m.logger.Warn("stop command not delivered", zap.Error(err))
		return fmt.Errorf("send stop command: %w", err)
	}
	return nil
}

func (m *RemoteMotor) Connected() bool {
	return len(m.ch.Peers()) > 0
}
