package indexer

// Stats is a point-in-time summary of the engine.
type Stats struct {
	Documents      int     `json:"documents"`
	TotalTokens    int64   `json:"total_tokens"`
	AvgDocLength   float64 `json:"avg_doc_length"`
	BufferedTerms  int     `json:"buffered_terms"`
	BufferedDocs   int     `json:"buffered_docs"`
	NextBatch      int     `json:"next_batch"`
	Pending        int64   `json:"pending_segments"`
	Folded         int64   `json:"folded_segments"`
	Phase          string  `json:"compaction_phase"`
	TableSize      int64   `json:"table_size"`
	FlushThreshold int     `json:"flush_threshold"`
	ReadOnly       bool    `json:"read_only"`
	Error          string  `json:"error,omitempty"`
}

func (e *Engine) Stats() Stats {
	s := Stats{
		TableSize:      e.cfg.TableSize,
		FlushThreshold: e.cfg.FlushThreshold,
		ReadOnly:       e.cfg.ReadOnly,
		Pending:        e.shared.Pending(),
		Phase:          "disabled",
	}

	e.mu.RLock()
	s.BufferedTerms = e.buffer.UniqueTerms()
	s.BufferedDocs = e.buffer.DocCount()
	s.NextBatch = e.nextBatch
	e.mu.RUnlock()

	e.docsMu.RLock()
	s.Documents = len(e.docs)
	s.TotalTokens = e.totalTokens
	e.docsMu.RUnlock()
	if s.Documents > 0 {
		s.AvgDocLength = float64(s.TotalTokens) / float64(s.Documents)
	}

	if e.daemon != nil {
		s.Phase = string(e.daemon.Phase())
		s.Folded = e.daemon.Folded()
		if err := e.daemon.Err(); err != nil {
			s.Error = err.Error()
		}
	}
	return s
}
