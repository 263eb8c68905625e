// Package health reports whether the local validator processes backing the
// two ledger tiers are running. Advisory only; the orchestrator reacts to
// ledger errors, not to process liveness.
package health

import (
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStatus describes one watched validator process.
type ProcessStatus struct {
	Name       string  `json:"name"`
	Running    bool    `json:"running"`
	PID        int32   `json:"pid,omitempty"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
}

type Checker struct {
	names []string
}

// NewChecker watches for processes whose name matches any of names.
func NewChecker(names []string) *Checker {
	return &Checker{names: names}
}

// Check scans the process table once and reports the status of every
// watched name. A scan failure degrades to "not running" for all entries.
func (c *Checker) Check() []ProcessStatus {
	statuses := make([]ProcessStatus, len(c.names))
	for i, name := range c.names {
		statuses[i] = ProcessStatus{Name: name}
	}
	if len(c.names) == 0 {
		return statuses
	}

	procs, err := process.Processes()
	if err != nil {
		return statuses
	}

	for _, p := range procs {
		procName, err := p.Name()
		if err != nil {
			continue
		}
		for i := range statuses {
			if statuses[i].Running || !matches(procName, statuses[i].Name) {
				continue
			}
			statuses[i].Running = true
			statuses[i].PID = p.Pid
			if cpu, err := p.CPUPercent(); err == nil {
				statuses[i].CPUPercent = cpu
			}
		}
	}
	return statuses
}

// AllRunning reports whether every watched process was found.
func (c *Checker) AllRunning() bool {
	for _, st := range c.Check() {
		if !st.Running {
			return false
		}
	}
	return true
}

// matches compares a process name against a watched name,
// case-insensitively, tolerating truncated process table entries.
func matches(procName, target string) bool {
	if procName == "" || target == "" {
		return false
	}
	p := strings.ToLower(procName)
	t := strings.ToLower(target)
	return p == t || strings.HasPrefix(t, p) || strings.HasPrefix(p, t)
}
