package supervisor

import (
	"syscall"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
)

// healthLoop probes the process on its configured interval and publishes
// transitions. Health is advisory only.
func (s *Supervisor) healthLoop(id string, t *tracked) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(t.record.Config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopHealth:
			return
		case <-ticker.Chan():
			s.checkHealth(id, t)
		}
	}
}

func (s *Supervisor) checkHealth(id string, t *tracked) {
	probeErr := s.probe(t.record)

	s.mu.Lock()
	cur, ok := s.procs[id]
	if !ok || cur.gen != t.gen {
		s.mu.Unlock()
		return
	}
	wasHealthy := cur.record.Healthy
	cur.record.Healthy = probeErr == nil
	cur.record.LastHealthCheck = s.clock.Now()
	s.mu.Unlock()

	switch {
	case probeErr != nil && wasHealthy:
		logger.Warn("process unhealthy", "id", id, "err", probeErr)
		s.publish(bus.EventProcessUnhealthy, bus.ProcessHealthData{ID: id, Error: probeErr.Error()})
	case probeErr == nil && !wasHealthy:
		logger.Info("process healthy again", "id", id)
		s.publish(bus.EventProcessHealthy, bus.ProcessHealthData{ID: id})
	}
}

// livenessProbe is the default probe: signal 0 checks that the OS handle
// still refers to a live process.
func livenessProbe(r Record) error {
	return syscall.Kill(r.PID, syscall.Signal(0))
}
