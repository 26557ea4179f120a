package decision

import (
	"sync"

	"controlling_reservoir/internal/models"
)

// SuccessEffectiveness is the effectiveness above which an evaluated decision counts as a success.
const SuccessEffectiveness = 0.7

const defaultLearningSize = 100

// Learning keeps the most recent evaluation records per reservoir.
type Learning struct {
	mu      sync.RWMutex
	size    int
	records map[string][]models.LearningRecord
}

func NewLearning(size int) *Learning {
	if size <= 0 {
		size = defaultLearningSize
	}
	return &Learning{size: size, records: make(map[string][]models.LearningRecord)}
}

// Record appends rec, evicting the oldest record of the reservoir when full.
func (l *Learning) Record(rec models.LearningRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := append(l.records[rec.ReservoirID], rec)
	if len(buf) > l.size {
		buf = append(buf[:0:0], buf[len(buf)-l.size:]...)
	}
	l.records[rec.ReservoirID] = buf
}

// Records returns a copy of the reservoir's records, oldest first.
func (l *Learning) Records(reservoirID string) []models.LearningRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.LearningRecord(nil), l.records[reservoirID]...)
}

func (l *Learning) Summary(reservoirID string) models.LearningSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := models.LearningSummary{ReservoirID: reservoirID}
	var accuracy float64
	for _, r := range l.records[reservoirID] {
		s.Total++
		accuracy += r.Accuracy
		if r.Effectiveness > SuccessEffectiveness {
			s.Successful++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = round3(float64(s.Successful) / float64(s.Total))
		s.MeanAccuracy = round3(accuracy / float64(s.Total))
	}
	return s
}
