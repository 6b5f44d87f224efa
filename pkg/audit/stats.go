package audit

import (
	"time"

	"clipscope/pkg/domain"
)

// ActionStats counts outcomes of one action.
type ActionStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// Stats is the aggregate audit report of one user.
type Stats struct {
	TotalActions      int64                               `json:"totalActions"`
	SuccessfulActions int64                               `json:"successfulActions"`
	FailedActions     int64                               `json:"failedActions"`
	ByAction          map[domain.AuditAction]*ActionStats `json:"byAction"`
}

// Summarize folds grouped counts into Stats.
func Summarize(counts []domain.AuditCount) Stats {
	s := Stats{ByAction: make(map[domain.AuditAction]*ActionStats)}
	for _, c := range counts {
		a := s.ByAction[c.Action]
		if a == nil {
			a = &ActionStats{}
			s.ByAction[c.Action] = a
		}
		a.Total += c.Count
		s.TotalActions += c.Count
		if c.Success {
			a.Successful += c.Count
			s.SuccessfulActions += c.Count
		} else {
			a.Failed += c.Count
			s.FailedActions += c.Count
		}
	}
	return s
}

// Suspicious-activity thresholds, evaluated over SuspicionWindow.
const (
	SuspicionWindow       = time.Hour
	MaxRequestsPerWindow  = 50
	MaxFailureRate        = 0.8
	MaxDistinctIPs        = 5
	reasonExcessive       = "Excessive requests in the last hour"
	reasonHighFailureRate = "High failure rate indicating potential abuse"
	reasonManyIPs         = "Requests from multiple IP addresses"
)

// Suspicion is the verdict of Assess.
type Suspicion struct {
	Suspicious bool     `json:"suspicious"`
	Reasons    []string `json:"reasons"`
}

// Assess flags abuse patterns in a window of audit activity.
func Assess(w domain.AuditWindow) Suspicion {
	s := Suspicion{Reasons: []string{}}
	if w.Total > MaxRequestsPerWindow {
		s.Reasons = append(s.Reasons, reasonExcessive)
	}
	if w.Total > 0 && float64(w.Failed)/float64(w.Total) > MaxFailureRate {
		s.Reasons = append(s.Reasons, reasonHighFailureRate)
	}
	if w.DistinctIPs > MaxDistinctIPs {
		s.Reasons = append(s.Reasons, reasonManyIPs)
	}
	s.Suspicious = len(s.Reasons) > 0
	return s
}
