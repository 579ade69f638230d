package storage

import (
	"container/heap"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kalambet/intake/internal/assessment"
)

const memoryColumns = `id, user_id, session_id, summary, urgency, language, embedding, created_at`

func (s *Store) SaveMemory(ctx context.Context, m Memory) error {
	var vec []byte
	if m.Embedding != nil {
		vec = encodeVector(m.Embedding)
	}
	created := m.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories (`+memoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.SessionID, m.Summary, string(m.Urgency), string(m.Language), vec, formatTime(created),
	)
	return classify(err)
}

func (s *Store) GetMemory(ctx context.Context, id string) (Memory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	return scanMemory(row, nil)
}

// SetMemoryEmbedding stores the vector computed for a memory.
func (s *Store) SetMemoryEmbedding(ctx context.Context, id string, vec []float32) error {
	return s.execAffecting(ctx, `UPDATE memories SET embedding = ? WHERE id = ?`, encodeVector(vec), id)
}

// ListMemories returns a user's memories, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string, limit int) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchMemories returns the topK indexed memories of userID closest to vec
// by cosine similarity, best first. Memories without an embedding are skipped.
func (s *Store) SearchMemories(ctx context.Context, userID string, vec []float32, topK int) ([]ScoredMemory, error) {
	if topK <= 0 || len(vec) == 0 {
		return nil, nil
	}
	qNorm := vectorNorm(vec)
	if qNorm == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	h := &memoryHeap{}
	heap.Init(h)
	var buf []float32
	for rows.Next() {
		m, err := scanMemory(rows, &buf)
		if err != nil {
			return nil, err
		}
		score := cosine(vec, m.Embedding, qNorm)
		if h.Len() >= topK && score <= (*h)[0].Score {
			continue
		}
		// buf is reused for the next row.
		m.Embedding = append([]float32(nil), m.Embedding...)
		if h.Len() < topK {
			heap.Push(h, ScoredMemory{Memory: m, Score: score})
		} else {
			(*h)[0] = ScoredMemory{Memory: m, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := []ScoredMemory(*h)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// scanMemory scans one memory row. When buf is non-nil the embedding is
// decoded into it.
func scanMemory(sc rowScanner, buf *[]float32) (Memory, error) {
	var (
		m                 Memory
		urgency, lang, at string
		vec               []byte
	)
	if err := sc.Scan(&m.ID, &m.UserID, &m.SessionID, &m.Summary, &urgency, &lang, &vec, &at); err != nil {
		return Memory{}, classify(err)
	}
	m.Urgency = assessment.Urgency(urgency)
	m.Language = assessment.Locale(lang)

	var err error
	if m.CreatedAt, err = parseTime(at); err != nil {
		return Memory{}, fmt.Errorf("parsing created_at of memory %s: %w", m.ID, err)
	}
	if vec == nil {
		return m, nil
	}
	if buf != nil {
		*buf, err = decodeVectorInto(*buf, vec)
		m.Embedding = *buf
	} else {
		m.Embedding, err = decodeVectorInto(nil, vec)
	}
	if err != nil {
		return Memory{}, fmt.Errorf("decoding embedding of memory %s: %w", m.ID, err)
	}
	return m, nil
}

// encodeVector serializes a vector as little-endian float32s.
func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// decodeVectorInto decodes b into buf, growing it when needed.
func decodeVectorInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func vectorNorm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns the cosine similarity of a and b given the norm of a.
// Vectors of different length score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	if bNormSq == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * math.Sqrt(bNormSq)))
}

// memoryHeap is a min-heap of ScoredMemory ordered by Score.
type memoryHeap []ScoredMemory

func (h memoryHeap) Len() int           { return len(h) }
func (h memoryHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h memoryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *memoryHeap) Push(x any)        { *h = append(*h, x.(ScoredMemory)) }
func (h *memoryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
