package health

import (
	"github.com/prometheus/procfs"
	"go.uber.org/zap"
)

// procSampler reads process CPU and memory gauges from /proc. On
// platforms without procfs every sample reports ok=false and the
// snapshot is produced without resource fields.
type procSampler struct {
	proc   procfs.Proc
	usable bool
	logger *zap.Logger
}

func newProcSampler(logger *zap.Logger) *procSampler {
	proc, err := procfs.Self()
	if err != nil {
		logger.Warn("process stats unavailable", zap.Error(err))
		return &procSampler{logger: logger}
	}
	return &procSampler{proc: proc, usable: true, logger: logger}
}

func (s *procSampler) sample() (cpuSeconds float64, residentBytes int64, ok bool) {
	if !s.usable {
		return 0, 0, false
	}
	stat, err := s.proc.Stat()
	if err != nil {
		s.logger.Warn("failed to read process stats", zap.Error(err))
		return 0, 0, false
	}
	return stat.CPUTime(), int64(stat.ResidentMemory()), true
}
