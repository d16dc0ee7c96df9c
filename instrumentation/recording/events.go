package recording

import (
	"fmt"

	"github.com/sarchlab/softmmu/instrumentation/hooking"
	"github.com/sarchlab/softmmu/instrumentation/id"
)

// EventTable is the table that an EventRecorder writes to.
const EventTable = "tlb_events"

// EventEntry is one row of the event table. Fields that do not apply to a
// kind of event are left zero.
type EventEntry struct {
	ID        string
	Session   string
	Component string
	Kind      string
	ASID      uint16
	VPN       uint64
	PAddr     uint64
	Access    string
	Level     string
	Detail    string
}

// EventRecorder is a hook that stores the events of the components it is
// attached to.
type EventRecorder struct {
	recorder  DataRecorder
	ids       id.IDGenerator
	session   string
	positions map[*hooking.HookPos]bool
}

// NewEventRecorder creates the event table and returns a hook that fills it.
// Only the events at the given positions are stored. Without positions, every
// event but translations is stored.
func NewEventRecorder(
	recorder DataRecorder,
	positions ...*hooking.HookPos,
) *EventRecorder {
	if len(positions) == 0 {
		positions = []*hooking.HookPos{
			hooking.HookPosWalk,
			hooking.HookPosFault,
			hooking.HookPosEvict,
			hooking.HookPosInvalidate,
			hooking.HookPosPrefetch,
		}
	}

	r := &EventRecorder{
		recorder:  recorder,
		ids:       id.NewIDGenerator(),
		session:   id.NewGlobalIDGenerator().Generate(),
		positions: make(map[*hooking.HookPos]bool),
	}

	for _, pos := range positions {
		r.positions[pos] = true
	}

	recorder.CreateTable(EventTable, EventEntry{})

	return r
}

// Session returns the identifier shared by all the rows of this recorder.
func (r *EventRecorder) Session() string {
	return r.session
}

// Func stores the event.
func (r *EventRecorder) Func(ctx hooking.HookCtx) {
	if !r.positions[ctx.Pos] {
		return
	}

	row, ok := toEntry(ctx.Item)
	if !ok {
		return
	}

	row.ID = r.ids.Generate()
	row.Session = r.session
	row.Kind = ctx.Pos.Name

	if ctx.Domain != nil {
		row.Component = ctx.Domain.Name()
	}

	r.recorder.InsertData(EventTable, row)
}

func toEntry(item any) (EventEntry, bool) {
	switch e := item.(type) {
	case hooking.TranslationEvent:
		return EventEntry{
			ASID:   uint16(e.Req.ASID),
			VPN:    uint64(e.Req.VPN()),
			PAddr:  e.PAddr,
			Access: e.Req.Type.String(),
			Level:  e.Level,
		}, true
	case hooking.WalkEvent:
		return EventEntry{
			ASID:   uint16(e.Req.ASID),
			VPN:    uint64(e.Req.VPN()),
			PAddr:  e.Result.PAddr,
			Access: e.Req.Type.String(),
			Level:  "walk",
			Detail: walkDetail(e),
		}, true
	case hooking.FaultEvent:
		detail := ""
		if e.Err != nil {
			detail = e.Err.Error()
		}

		if e.Speculative {
			detail = "speculative: " + detail
		}

		return EventEntry{
			ASID:   uint16(e.Req.ASID),
			VPN:    uint64(e.Req.VPN()),
			Access: e.Req.Type.String(),
			Detail: detail,
		}, true
	case hooking.EvictionEvent:
		return EventEntry{
			ASID:  uint16(e.Entry.ASID),
			VPN:   uint64(e.Entry.VPN),
			PAddr: e.Entry.PPN.Addr(),
			Level: e.Level,
		}, true
	case hooking.InvalidationEvent:
		return EventEntry{
			ASID: uint16(e.ASID),
			VPN:  uint64(e.First),
			Detail: fmt.Sprintf("%s last=0x%x removed=%d",
				e.Scope, uint64(e.Last), e.Removed),
		}, true
	case hooking.PrefetchEvent:
		return EventEntry{
			ASID:   uint16(e.ASID),
			VPN:    uint64(e.VPN),
			Detail: fmt.Sprintf("inserted=%t", e.Inserted),
		}, true
	default:
		return EventEntry{}, false
	}
}

func walkDetail(e hooking.WalkEvent) string {
	s := fmt.Sprintf("level=%d page=0x%x perm=%s",
		e.Result.Level, e.Result.PageSize, e.Result.Perm)

	if e.Speculative {
		s += " speculative"
	}

	return s
}
