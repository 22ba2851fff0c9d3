package telemetry

import (
	"strings"
	"sync"
)

type ReportKind int

const (
	KindBroken ReportKind = iota
	KindWarning
	KindDebug
	KindCount
)

func (k ReportKind) String() string {
	switch k {
	case KindBroken:
		return "broken"
	case KindWarning:
		return "warning"
	case KindDebug:
		return "debug"
	case KindCount:
		return "count"
	default:
		return "unknown"
	}
}

type Report struct {
	Kind   ReportKind
	Id     string
	Params []any
	Count  int64
}

// MemoryAPI keeps every report in memory, it exists so tests can assert on what a component
// reported.
type MemoryAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewMemoryAPI() *MemoryAPI {
	return &MemoryAPI{}
}

func (m *MemoryAPI) add(r Report) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.reports = append(m.reports, r)
}

func (m *MemoryAPI) ReportBroken(id string, params ...any) {
	m.add(Report{Kind: KindBroken, Id: id, Params: params})
}

func (m *MemoryAPI) ReportWarning(id string, params ...any) {
	m.add(Report{Kind: KindWarning, Id: id, Params: params})
}

func (m *MemoryAPI) ReportDebug(msg string, params ...any) {
	m.add(Report{Kind: KindDebug, Id: msg, Params: params})
}

func (m *MemoryAPI) ReportCount(id string, count int64) {
	m.add(Report{Kind: KindCount, Id: id, Count: count})
}

// Reports returns a copy of everything reported so far.
func (m *MemoryAPI) Reports() []Report {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]Report, len(m.reports))
	copy(out, m.reports)
	return out
}

// Find returns the reports of the given kind whose id ends with `suffix`, scoped ids are
// prefixed with their namespace so matching on the suffix is usually what you want.
func (m *MemoryAPI) Find(kind ReportKind, suffix string) []Report {
	var out []Report
	for _, r := range m.Reports() {
		if r.Kind == kind && strings.HasSuffix(r.Id, suffix) {
			out = append(out, r)
		}
	}
	return out
}
