package kernel

// schedulerQueue is one generation of the scheduler: a LIFO bucket per
// priority plus the index of the highest bucket that may be non-empty.
type schedulerQueue struct {
	buckets [numPriorities]ThreadID
	highest Priority
	n       int
}

func newSchedulerQueue() schedulerQueue {
	q := schedulerQueue{}
	for i := range q.buckets {
		q.buckets[i] = nilThread
	}
	return q
}

func (q *schedulerQueue) put(a *arena, t *Thread) {
	push(&q.buckets[t.priority], t)
	q.n++
	if t.priority > q.highest {
		q.highest = t.priority
	}
}

// getHighest pops the head of the highest non-empty bucket. The cached
// index only moves down while searching, so buckets below it are never
// stranded.
func (q *schedulerQueue) getHighest(a *arena) *Thread {
	for p := int(q.highest); p >= 0; p-- {
		if t := pop(a, &q.buckets[p]); t != nil {
			q.highest = Priority(p)
			q.n--
			return t
		}
	}
	q.highest = 0
	return nil
}

func (q *schedulerQueue) remove(a *arena, t *Thread) bool {
	if !unlink(a, &q.buckets[t.priority], t) {
		return false
	}
	q.n--
	return true
}

func (q *schedulerQueue) len() int { return q.n }

// scheduler holds the active and passive generations of one CPU. New and
// preempted threads enter the passive generation; when the active one runs
// dry the generations flip, so a busy high-priority thread cannot starve
// lower ones for more than one generation.
type scheduler struct {
	arena  *arena
	queues [2]schedulerQueue
	active int
}

func newScheduler(a *arena) scheduler {
	return scheduler{
		arena:  a,
		queues: [2]schedulerQueue{newSchedulerQueue(), newSchedulerQueue()},
	}
}

func (s *scheduler) activeQueue() *schedulerQueue  { return &s.queues[s.active] }
func (s *scheduler) passiveQueue() *schedulerQueue { return &s.queues[1-s.active] }

func (s *scheduler) putThread(t *Thread) {
	s.passiveQueue().put(s.arena, t)
}

// next picks the thread to run, flipping generations at most once.
func (s *scheduler) next() *Thread {
	if t := s.activeQueue().getHighest(s.arena); t != nil {
		return t
	}
	s.active = 1 - s.active
	return s.activeQueue().getHighest(s.arena)
}

func (s *scheduler) remove(t *Thread) bool {
	return s.queues[0].remove(s.arena, t) || s.queues[1].remove(s.arena, t)
}

func (s *scheduler) len() int {
	return s.queues[0].len() + s.queues[1].len()
}
