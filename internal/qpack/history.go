package qpack

// history remembers the most recently encoded fields. The encoder only
// inserts a field into the dynamic table once it has been seen before.
type history struct {
	fields []HeaderField // oldest first
	limit  int
	counts map[HeaderField]int
}

func newHistory(limit int) *history {
	return &history{limit: limit, counts: make(map[HeaderField]int)}
}

func (h *history) seen(hf HeaderField) bool {
	return h.counts[key(hf)] > 0
}

func (h *history) add(hf HeaderField) {
	if h.limit == 0 {
		return
	}
	if len(h.fields) == h.limit {
		h.dropOldest()
	}
	k := key(hf)
	h.fields = append(h.fields, k)
	h.counts[k]++
}

func (h *history) resize(limit int) {
	h.limit = limit
	for len(h.fields) > limit {
		h.dropOldest()
	}
}

func (h *history) dropOldest() {
	k := h.fields[0]
	h.fields = h.fields[1:]
	if h.counts[k]--; h.counts[k] == 0 {
		delete(h.counts, k)
	}
}

func key(hf HeaderField) HeaderField {
	return HeaderField{Name: hf.Name, Value: hf.Value}
}
