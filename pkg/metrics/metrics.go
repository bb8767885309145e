// Package metrics counts what a snapshot walks over and reports progress
// while it runs.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/paulschiretz/pgl-workingcopy/pkg/plog"
	"github.com/paulschiretz/pgl-workingcopy/pkg/repopath"
)

// Metrics defines the interface for collecting and reporting snapshot statistics.
type Metrics interface {
	// Visit is suitable as a snapshot progress callback.
	Visit(p repopath.Path)
	AddUntracked(n int64)
	LogSummary(msg string)

	StartProgress(msg string, interval time.Duration)
	StopProgress()
}

// SnapshotMetrics holds the atomic counters for tracking a snapshot's progress.
type SnapshotMetrics struct {
	FilesVisited atomic.Int64
	Untracked    atomic.Int64

	stopChan  chan struct{}
	startTime time.Time
}

func (m *SnapshotMetrics) Visit(repopath.Path)  { m.FilesVisited.Add(1) }
func (m *SnapshotMetrics) AddUntracked(n int64) { m.Untracked.Add(n) }

func (m *SnapshotMetrics) StartProgress(msg string, interval time.Duration) {
	m.startTime = time.Now()
	stop := make(chan struct{})
	m.stopChan = stop
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.LogSummary(msg)
			case <-stop:
				return
			}
		}
	}()
}

func (m *SnapshotMetrics) StopProgress() {
	if m.stopChan != nil {
		close(m.stopChan)
		m.stopChan = nil
	}
}

// LogSummary logs the counters with a custom message.
// This can be called by a background ticker or at the end of the run.
func (m *SnapshotMetrics) LogSummary(msg string) {
	duration := time.Duration(0)
	if !m.startTime.IsZero() {
		duration = time.Since(m.startTime)
	}
	plog.Info(msg,
		"files_visited", m.FilesVisited.Load(),
		"untracked", m.Untracked.Load(),
		"duration", duration.Round(time.Millisecond),
	)
}

// NoopMetrics is an implementation of the Metrics interface that performs no operations.
type NoopMetrics struct{}

func (m *NoopMetrics) Visit(repopath.Path)                              {}
func (m *NoopMetrics) AddUntracked(n int64)                             {}
func (m *NoopMetrics) LogSummary(msg string)                            {}
func (m *NoopMetrics) StartProgress(msg string, interval time.Duration) {}
func (m *NoopMetrics) StopProgress()                                    {}

// Statically assert that our types implement the interface.
var _ Metrics = (*SnapshotMetrics)(nil)
var _ Metrics = (*NoopMetrics)(nil)
