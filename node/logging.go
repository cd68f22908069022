package node

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/orset/comm"
)

// Structs

type loggingService struct {
	logger  log.Logger
	service Service
}

// Functions

// NewLoggingService wraps a provided existing
// service with the provided logger.
func NewLoggingService(s Service, logger log.Logger) Service {

	return &loggingService{
		logger:  logger,
		service: s,
	}
}

// Add wraps this service's Add method
// with added logging capabilities.
func (s *loggingService) Add(value string) error {

	err := s.service.Add(value)

	logger := log.With(s.logger,
		"method", "ADD",
		"value", value,
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to perform operation ADD correctly", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// Remove wraps this service's Remove method
// with added logging capabilities.
func (s *loggingService) Remove(value string) error {

	err := s.service.Remove(value)

	logger := log.With(s.logger,
		"method", "REMOVE",
		"value", value,
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to perform operation REMOVE correctly", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

// Contains wraps this service's Contains method.
func (s *loggingService) Contains(value string) bool {
	return s.service.Contains(value)
}

// Elements wraps this service's Elements method.
func (s *loggingService) Elements() []string {
	return s.service.Elements()
}

// Stats wraps this service's Stats method.
func (s *loggingService) Stats() Stats {
	return s.service.Stats()
}

// HandleMsg wraps this service's HandleMsg method
// with added logging capabilities.
func (s *loggingService) HandleMsg(msg *comm.Msg) error {

	err := s.service.HandleMsg(msg)

	logger := log.With(s.logger,
		"method", "DOWNSTREAM",
		"from", msg.Replica,
		"vclock", msg.Vclock.String(),
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to handle downstream message", "err", err)
	} else {
		level.Debug(logger).Log("payload", msg.Payload)
	}

	return err
}

// HandleSync wraps this service's HandleSync method
// with added logging capabilities.
func (s *loggingService) HandleSync(state *comm.SyncMsg) error {

	err := s.service.HandleSync(state)

	logger := log.With(s.logger,
		"method", "SYNC",
		"from", state.Replica,
		"vclock", state.Vclock.String(),
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to merge state of peer", "err", err)
	} else {
		level.Debug(logger).Log("elements", len(state.Elements))
	}

	return err
}

// SyncMsg wraps this service's SyncMsg method.
func (s *loggingService) SyncMsg() *comm.SyncMsg {
	return s.service.SyncMsg()
}
