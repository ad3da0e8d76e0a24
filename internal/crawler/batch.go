package crawler

// SlotState is the processing state of one discovered listing
type SlotState int

const (
	StatePending SlotState = iota
	StateExtracted
	StateExcluded
	StateFetchFailed
	StateExtractionFailed
)

func (s SlotState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExtracted:
		return "extracted"
	case StateExcluded:
		return "excluded"
	case StateFetchFailed:
		return "fetch_failed"
	case StateExtractionFailed:
		return "extraction_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s SlotState) Terminal() bool {
	return s != StatePending
}

// Slot holds one discovered listing and what became of it
type Slot struct {
	Seq      int
	Ref      ListingReference
	State    SlotState
	Record   *Record
	Err      error
	Attempts int
}

// Batch is the working collection of one session. Slots are keyed by their
// discovery sequence number, which never changes once assigned.
type Batch struct {
	slots map[int]*Slot
	order []int
	next  int
}

// NewBatch creates an empty batch
func NewBatch() *Batch {
	return &Batch{slots: make(map[int]*Slot)}
}

// Add appends a pending slot and returns its sequence number
func (b *Batch) Add(ref ListingReference) int {
	seq := b.next
	b.next++
	b.slots[seq] = &Slot{Seq: seq, Ref: ref, State: StatePending}
	b.order = append(b.order, seq)
	return seq
}

// Get returns the slot with the given sequence number
func (b *Batch) Get(seq int) (*Slot, bool) {
	s, ok := b.slots[seq]
	return s, ok
}

// Len returns the number of slots
func (b *Batch) Len() int {
	return len(b.order)
}

// Pending returns the sequence numbers of pending slots in discovery order
func (b *Batch) Pending() []int {
	var seqs []int
	for _, seq := range b.order {
		if b.slots[seq].State == StatePending {
			seqs = append(seqs, seq)
		}
	}
	return seqs
}

// Records returns the extracted records in discovery order
func (b *Batch) Records() []Record {
	var records []Record
	for _, seq := range b.order {
		s := b.slots[seq]
		if s.State == StateExtracted && s.Record != nil {
			records = append(records, *s.Record)
		}
	}
	return records
}

// Failures returns copies of the failed slots in discovery order
func (b *Batch) Failures() []Slot {
	var failed []Slot
	for _, seq := range b.order {
		s := b.slots[seq]
		if s.State == StateFetchFailed || s.State == StateExtractionFailed {
			failed = append(failed, *s)
		}
	}
	return failed
}

// Count returns the number of slots in the given state
func (b *Batch) Count(state SlotState) int {
	n := 0
	for _, s := range b.slots {
		if s.State == state {
			n++
		}
	}
	return n
}
