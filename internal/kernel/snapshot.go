package kernel

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ThreadInfo is a point-in-time view of one thread.
type ThreadInfo struct {
	ID       ThreadID `json:"id"`
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Priority Priority `json:"priority"`
	CPU      int      `json:"cpu"`
	Affinity int      `json:"affinity"`
	Domain   uint64   `json:"domain"`
	Switches uint64   `json:"switches"`
	WaitIRQ  *uint8   `json:"wait_irq,omitempty"`
}

// LatencySummary summarises how many switches threads spent queued before
// being selected.
type LatencySummary struct {
	Samples int     `json:"samples"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	P50     float64 `json:"p50"`
	P99     float64 `json:"p99"`
}

// CPUSnapshot is a point-in-time view of one CPU.
type CPUSnapshot struct {
	ID                int            `json:"id"`
	Started           bool           `json:"started"`
	Halted            bool           `json:"halted"`
	Current           string         `json:"current,omitempty"`
	ActiveGeneration  int            `json:"active_generation"`
	RunQueue          int            `json:"run_queue"`
	Switches          uint64         `json:"switches"`
	InterruptsEnabled bool           `json:"interrupts_enabled"`
	ReschedulePending bool           `json:"reschedule_pending"`
	Waiting           map[uint8]int  `json:"waiting"`
	Latency           LatencySummary `json:"latency"`
	Threads           []ThreadInfo   `json:"threads"`
}

// Snapshot is a point-in-time view of the kernel.
type Snapshot struct {
	CPUs         []CPUSnapshot `json:"cpus"`
	ThreadsInUse int           `json:"threads_in_use"`
	Capacity     int           `json:"capacity"`
}

// Snapshot captures every CPU in turn. CPUs are not frozen together, so
// cross-CPU totals are approximate while threads run.
func (k *Kernel) Snapshot() Snapshot {
	s := Snapshot{
		CPUs:         make([]CPUSnapshot, 0, len(k.cpus)),
		ThreadsInUse: k.arena.inUse(),
		Capacity:     k.cfg.MaxThreads,
	}
	for _, c := range k.cpus {
		s.CPUs = append(s.CPUs, c.Snapshot())
	}
	return s
}

// Threads lists the live threads of every CPU ordered by id.
func (k *Kernel) Threads() []ThreadInfo {
	var out []ThreadInfo
	for _, c := range k.cpus {
		out = append(out, c.Snapshot().Threads...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot captures the CPU's scheduler state.
func (c *CPU) Snapshot() CPUSnapshot {
	c.irq.Lock()
	snap := CPUSnapshot{
		ID:                c.id,
		Started:           c.started,
		Halted:            c.halted,
		ActiveGeneration:  c.sched.active,
		RunQueue:          c.sched.len(),
		Switches:          c.switches,
		InterruptsEnabled: c.flags&flagIF != 0,
		ReschedulePending: c.resched,
		Waiting:           c.waits.waiting(),
		Threads:           make([]ThreadInfo, 0, len(c.threads)),
	}
	if c.current != nil {
		snap.Current = c.current.String()
	}
	for _, t := range c.threads {
		snap.Threads = append(snap.Threads, c.threadInfoLocked(t))
	}
	samples := append([]float64(nil), c.latency...)
	c.irq.Unlock()

	sort.Slice(snap.Threads, func(i, j int) bool { return snap.Threads[i].ID < snap.Threads[j].ID })
	snap.Latency = summarize(samples)
	return snap
}

func (c *CPU) threadInfoLocked(t *Thread) ThreadInfo {
	info := ThreadInfo{
		ID:       t.id,
		Name:     t.name,
		State:    t.state.String(),
		Priority: t.priority,
		CPU:      c.id,
		Affinity: t.affinity,
		Domain:   uint64(t.domain),
		Switches: t.frame.switches,
	}
	if t.waitIRQ >= 0 {
		irq := uint8(t.waitIRQ)
		info.WaitIRQ = &irq
	}
	return info
}

func summarize(samples []float64) LatencySummary {
	if len(samples) == 0 {
		return LatencySummary{}
	}
	sort.Float64s(samples)
	mean, std := stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		std = 0
	}
	return LatencySummary{
		Samples: len(samples),
		Mean:    mean,
		StdDev:  std,
		P50:     stat.Quantile(0.5, stat.Empirical, samples, nil),
		P99:     stat.Quantile(0.99, stat.Empirical, samples, nil),
	}
}
