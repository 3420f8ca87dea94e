package upload

import "sort"

type TaskState struct {
	TaskID   int
	Slot     Slot
	Status   Status
	MediaRef string
	Err      error
}

// Board is the composer's view of a session's uploads, built only by
// applying queue events.
type Board struct {
	tasks map[int]*TaskState
}

func NewBoard() *Board {
	return &Board{tasks: make(map[int]*TaskState)}
}

// Queued records a task as waiting before any event for it arrives.
func (b *Board) Queued(taskID int, slot Slot) {
	b.tasks[taskID] = &TaskState{TaskID: taskID, Slot: slot, Status: StatusQueued}
}

func (b *Board) Apply(ev Event) {
	st, ok := b.tasks[ev.TaskID]
	if !ok {
		st = &TaskState{TaskID: ev.TaskID, Slot: ev.Slot}
		b.tasks[ev.TaskID] = st
	}

	switch ev.Kind {
	case TaskStarted:
		st.Status = StatusUploading
	case TaskSucceeded:
		st.Status = StatusUploaded
		st.MediaRef = ev.MediaRef
	case TaskFailed:
		st.Status = StatusFailed
		st.Err = ev.Err
	}
}

func (b *Board) Get(taskID int) (TaskState, bool) {
	st, ok := b.tasks[taskID]
	if !ok {
		return TaskState{}, false
	}
	return *st, true
}

// Tasks returns every task in enqueue order.
func (b *Board) Tasks() []TaskState {
	out := make([]TaskState, 0, len(b.tasks))
	for _, st := range b.tasks {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (b *Board) Count(s Status) int {
	n := 0
	for _, st := range b.tasks {
		if st.Status == s {
			n++
		}
	}
	return n
}

// MediaRefs returns the uploaded refs for one slot list, ordered by index.
// Pass SingleList for the single-post media list.
func (b *Board) MediaRefs(segment int) []string {
	var states []TaskState
	for _, st := range b.tasks {
		if st.Slot.Segment == segment && st.Status == StatusUploaded {
			states = append(states, *st)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Slot.Index < states[j].Slot.Index })

	refs := make([]string, 0, len(states))
	for _, st := range states {
		refs = append(refs, st.MediaRef)
	}
	return refs
}
