package domain

// WarehouseScore is the per-warehouse outcome of one selection run.
// It is ephemeral: recomputed on every checkout attempt, never persisted.
type WarehouseScore struct {
	WarehouseID  int64
	LinesCovered int
	TotalLines   int
	TotalStock   int64 // summed availability of the cart's products at this warehouse
	Qualified    bool
	Score        float64
}

// CoveragePercent returns how much of the cart this warehouse can fully
// satisfy, as a percentage of cart lines.
func (s WarehouseScore) CoveragePercent() float64 {
	if s.TotalLines == 0 {
		return 0
	}
	return float64(s.LinesCovered) / float64(s.TotalLines) * 100
}
