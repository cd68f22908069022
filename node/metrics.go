package node

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-pluto/orset/comm"
)

// Metrics bundles the instruments a replica reports to.
type Metrics struct {
	Adds     metrics.Counter
	Removes  metrics.Counter
	Msgs     metrics.Counter
	Syncs    metrics.Counter
	Elements metrics.Gauge
	Tags     metrics.Gauge
}

type metricsService struct {
	service Service
	metrics *Metrics
}

func NewMetricsService(s Service, m *Metrics) Service {

	ms := &metricsService{
		service: s,
		metrics: m,
	}
	ms.observe()

	return ms
}

func (s *metricsService) observe() {

	stats := s.service.Stats()

	s.metrics.Elements.Set(float64(stats.Elements))
	s.metrics.Tags.Set(float64(stats.Tags))
}

func (s *metricsService) Add(value string) error {

	err := s.service.Add(value)

	if err == nil {
		s.metrics.Adds.Add(1)
		s.observe()
	}

	return err
}

func (s *metricsService) Remove(value string) error {

	err := s.service.Remove(value)

	if err == nil {
		s.metrics.Removes.Add(1)
		s.observe()
	}

	return err
}

func (s *metricsService) Contains(value string) bool {
	return s.service.Contains(value)
}

func (s *metricsService) Elements() []string {
	return s.service.Elements()
}

func (s *metricsService) Stats() Stats {
	return s.service.Stats()
}

func (s *metricsService) HandleMsg(msg *comm.Msg) error {

	err := s.service.HandleMsg(msg)

	if err == nil {
		s.metrics.Msgs.Add(1)
		s.observe()
	}

	return err
}

func (s *metricsService) HandleSync(state *comm.SyncMsg) error {

	err := s.service.HandleSync(state)

	if err == nil {
		s.metrics.Syncs.Add(1)
		s.observe()
	}

	return err
}

func (s *metricsService) SyncMsg() *comm.SyncMsg {
	return s.service.SyncMsg()
}
