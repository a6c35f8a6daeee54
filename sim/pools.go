package sim

import (
	"container/heap"
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation marks a resource accounting bug: a release of
	// an idle pool or an acquire past capacity. The offending patient is
	// failed and the engine keeps going.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrUnknownConsultRoom marks a consult room id outside the hospital's
	// room range.
	ErrUnknownConsultRoom = errors.New("unknown consult room")

	// ErrDoctorsOutOfRange marks a doctor count outside [1,4].
	ErrDoctorsOutOfRange = errors.New("doctors out of range")
)

// Doctor staffing bounds per consult room.
const (
	MinDoctorsPerRoom = 1
	MaxDoctorsPerRoom = 4
)

// === countPool ===

// countPool tracks an anonymous resource pool (reception desks,
// observation beds): only the busy count matters.
type countPool struct {
	name     string
	capacity int
	busy     int
}

func (p *countPool) acquire() bool {
	if p.busy >= p.capacity {
		return false
	}
	p.busy++
	return true
}

func (p *countPool) release() error {
	if p.busy <= 0 {
		return fmt.Errorf("%w: release of idle %s pool", ErrInvariantViolation, p.name)
	}
	p.busy--
	return nil
}

func (p *countPool) reset() { p.busy = 0 }

// === slotPool ===

// slotPool tracks a slotted resource where the slot index is part of the
// published record (triage boxes).
type slotPool struct {
	name string
	slot []bool // true = busy
	busy int
}

func newSlotPool(name string, capacity int) *slotPool {
	return &slotPool{name: name, slot: make([]bool, capacity)}
}

// acquire claims the lowest free slot.
func (p *slotPool) acquire() (int, bool) {
	for i, taken := range p.slot {
		if !taken {
			p.slot[i] = true
			p.busy++
			return i, true
		}
	}
	return 0, false
}

func (p *slotPool) release(slot int) error {
	if slot < 0 || slot >= len(p.slot) {
		return fmt.Errorf("%w: %s slot %d out of range", ErrInvariantViolation, p.name, slot)
	}
	if !p.slot[slot] {
		return fmt.Errorf("%w: release of free %s slot %d", ErrInvariantViolation, p.name, slot)
	}
	p.slot[slot] = false
	p.busy--
	return nil
}

func (p *slotPool) capacity() int { return len(p.slot) }

func (p *slotPool) reset() {
	for i := range p.slot {
		p.slot[i] = false
	}
	p.busy = 0
}

// === waitQueue ===

// waitQueue is a FIFO of patients waiting for a stage (reception, triage,
// observation). Consult waits are priority-ordered and live in
// consultPool instead.
type waitQueue struct {
	queue []*Patient
}

// Enqueue adds a patient to the back of the wait queue.
func (wq *waitQueue) Enqueue(p *Patient) {
	if p == nil {
		panic("waitQueue.Enqueue: patient must not be nil")
	}
	wq.queue = append(wq.queue, p)
}

// Peek returns the patient at the front of the queue without
// removing it. Returns nil if the queue is empty.
func (wq *waitQueue) Peek() *Patient {
	if len(wq.queue) == 0 {
		return nil
	}
	return wq.queue[0]
}

// Dequeue removes the patient at the front of the queue.
// Returns nil if the queue is empty.
func (wq *waitQueue) Dequeue() *Patient {
	if len(wq.queue) == 0 {
		return nil
	}
	p := wq.queue[0]
	wq.queue = wq.queue[1:]
	return p
}

// Len returns the number of waiting patients.
func (wq *waitQueue) Len() int {
	return len(wq.queue)
}

func (wq *waitQueue) reset() { wq.queue = nil }

// === consultPool ===

// consultWaiters orders waiting patients by (triage ordinal, arrival
// sequence): more urgent first, FIFO within a level.
type consultWaiters []*Patient

func (w consultWaiters) Len() int { return len(w) }

func (w consultWaiters) Less(i, j int) bool {
	if w[i].Level != w[j].Level {
		return w[i].Level < w[j].Level
	}
	return w[i].seq < w[j].seq
}

func (w consultWaiters) Swap(i, j int) { w[i], w[j] = w[j], w[i] }

func (w *consultWaiters) Push(x interface{}) {
	*w = append(*w, x.(*Patient))
}

func (w *consultWaiters) Pop() interface{} {
	old := *w
	n := len(old)
	item := old[n-1]
	*w = old[0 : n-1]
	return item
}

// consultRoom is one consult room with its current staffing.
type consultRoom struct {
	id      int
	doctors int
	patient *Patient // nil when free
}

// consultPool is the consult stage: fixed rooms plus a priority queue of
// waiting patients.
type consultPool struct {
	rooms   []consultRoom
	waiting consultWaiters
}

func newConsultPool(rooms int) *consultPool {
	cp := &consultPool{rooms: make([]consultRoom, rooms)}
	for i := range cp.rooms {
		cp.rooms[i] = consultRoom{id: i, doctors: MinDoctorsPerRoom}
	}
	heap.Init(&cp.waiting)
	return cp
}

// enqueue adds a patient to the waiting heap.
func (cp *consultPool) enqueue(p *Patient) {
	heap.Push(&cp.waiting, p)
}

// next pops the most urgent waiting patient, nil if none.
func (cp *consultPool) next() *Patient {
	if len(cp.waiting) == 0 {
		return nil
	}
	return heap.Pop(&cp.waiting).(*Patient)
}

// removeWaiting extracts a queued patient by id (diversion before consult
// start). Returns nil when the patient is not waiting.
func (cp *consultPool) removeWaiting(patientID string) *Patient {
	for i, p := range cp.waiting {
		if p.PatientID == patientID {
			heap.Remove(&cp.waiting, i)
			return p
		}
	}
	return nil
}

// freeRoom returns the lowest-id free room.
func (cp *consultPool) freeRoom() (int, bool) {
	for i := range cp.rooms {
		if cp.rooms[i].patient == nil {
			return i, true
		}
	}
	return 0, false
}

// start seats a patient in a room.
func (cp *consultPool) start(roomID int, p *Patient) error {
	if roomID < 0 || roomID >= len(cp.rooms) {
		return fmt.Errorf("%w: %d", ErrUnknownConsultRoom, roomID)
	}
	if cp.rooms[roomID].patient != nil {
		return fmt.Errorf("%w: consult room %d already busy", ErrInvariantViolation, roomID)
	}
	cp.rooms[roomID].patient = p
	return nil
}

// finish frees a room.
func (cp *consultPool) finish(roomID int) error {
	if roomID < 0 || roomID >= len(cp.rooms) {
		return fmt.Errorf("%w: %d", ErrUnknownConsultRoom, roomID)
	}
	if cp.rooms[roomID].patient == nil {
		return fmt.Errorf("%w: release of free consult room %d", ErrInvariantViolation, roomID)
	}
	cp.rooms[roomID].patient = nil
	return nil
}

// setDoctors changes a room's staffing. Takes effect at the next consult
// start; a running consult keeps the doctors it started with.
func (cp *consultPool) setDoctors(roomID, n int) error {
	if roomID < 0 || roomID >= len(cp.rooms) {
		return fmt.Errorf("%w: %d", ErrUnknownConsultRoom, roomID)
	}
	if n < MinDoctorsPerRoom || n > MaxDoctorsPerRoom {
		return fmt.Errorf("%w: %d", ErrDoctorsOutOfRange, n)
	}
	cp.rooms[roomID].doctors = n
	return nil
}

// doctors reports a room's staffing.
func (cp *consultPool) doctors(roomID int) (int, error) {
	if roomID < 0 || roomID >= len(cp.rooms) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownConsultRoom, roomID)
	}
	return cp.rooms[roomID].doctors, nil
}

func (cp *consultPool) busyCount() int {
	busy := 0
	for i := range cp.rooms {
		if cp.rooms[i].patient != nil {
			busy++
		}
	}
	return busy
}

func (cp *consultPool) queueLen() int { return len(cp.waiting) }

func (cp *consultPool) roomCount() int { return len(cp.rooms) }

func (cp *consultPool) reset() {
	for i := range cp.rooms {
		cp.rooms[i].patient = nil
	}
	cp.waiting = nil
}
