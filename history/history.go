package history

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Detection 一次分析结果的记录
type Detection struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	IsDeepfake  bool      `json:"isDeepfake"`
	Confidence  int       `json:"confidence"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	AudioSample string    `json:"audioSample,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Alert 高置信度的伪造判定
func (d Detection) Alert(threshold int) bool {
	return d.Error == "" && d.IsDeepfake && d.Confidence >= threshold
}

// Stats 统计只包含当前仍保留在历史里的记录，失败的分析不计入
type Stats struct {
	Total             int
	Deepfakes         int
	Authentic         int
	Failed            int
	AverageConfidence float64
}

// Store 有界的检测历史，超出容量时淘汰最旧的记录
type Store struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, Detection]
	threshold int
	logger    *slog.Logger
	now       func() time.Time
}

func NewStore(size, threshold int, logger *slog.Logger) (*Store, error) {
	if size <= 0 {
		size = 100
	}
	cache, err := lru.New[string, Detection](size)
	if err != nil {
		return nil, fmt.Errorf("create history cache: %w", err)
	}
	return &Store{
		cache:     cache,
		threshold: threshold,
		logger:    logger.With("component", "history"),
		now:       time.Now,
	}, nil
}

// Record 补齐 ID 和时间戳后保存，返回保存的记录以及是否达到告警阈值
func (s *Store) Record(d Detection) (Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = s.now()
	}
	s.cache.Add(d.ID, d)

	alert := d.Alert(s.threshold)
	if alert {
		s.logger.Warn("Potential voice fraud detected",
			"confidence", d.Confidence,
			"number", d.PhoneNumber,
			"id", d.ID)
	}
	return d, alert
}

// Recent 最新的 n 条，新的在前；n<=0 返回全部
func (s *Store) Recent(n int) []Detection {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Values 按从旧到新排列
	values := s.cache.Values()
	if n <= 0 || n > len(values) {
		n = len(values)
	}
	out := make([]Detection, 0, n)
	for i := len(values) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, values[i])
	}
	return out
}

func (s *Store) Get(id string) (Detection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Peek(id)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}

func (s *Store) Threshold() int { return s.threshold }

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	var sum int
	for _, d := range s.cache.Values() {
		if d.Error != "" {
			st.Failed++
			continue
		}
		st.Total++
		sum += d.Confidence
		if d.IsDeepfake {
			st.Deepfakes++
		} else {
			st.Authentic++
		}
	}
	if st.Total > 0 {
		st.AverageConfidence = float64(sum) / float64(st.Total)
	}
	return st
}
