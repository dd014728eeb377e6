// Package embedding defines the data model shared by every component of the
// embedding worker: requests and responses that cross the JSON-RPC boundary,
// the worker's lifecycle state enum, and the priority-queue entry shape.
package embedding

import "time"

// Priority identifies which of the scheduler's two classes a request
// belongs to. Lower values are serviced first.
type Priority int

const (
	// PriorityImmediate is latency-sensitive, user-visible work.
	PriorityImmediate Priority = 0
	// PriorityBatch is throughput-sensitive background work.
	PriorityBatch Priority = 1
)

// EmbeddingRequest is a set of input strings to encode.
type EmbeddingRequest struct {
	Texts         []string `json:"texts"`
	Immediate     bool     `json:"immediate"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// EmbeddingVector is a single unit-norm embedding produced by the currently
// loaded model.
type EmbeddingVector struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	ChunkID   string    `json:"chunk_id"`
}

// EmbeddingResponse is the reply to a generate_embeddings request.
type EmbeddingResponse struct {
	Embeddings    []EmbeddingVector `json:"embeddings"`
	Success       bool              `json:"success"`
	ProcessingMS  int64             `json:"processing_time_ms"`
	ModelInfo     map[string]any    `json:"model_info,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// KeyphraseRequest configures a single keyphrase-extraction call.
type KeyphraseRequest struct {
	Text                 string                `json:"text"`
	MinNgram             int                   `json:"min_ngram"`
	MaxNgram             int                   `json:"max_ngram"`
	UseDiversity         bool                  `json:"use_diversity"`
	DiversityFactor      float64               `json:"diversity_factor"`
	TopN                 int                   `json:"top_n"`
	StopWordLanguage     string                `json:"stop_word_language,omitempty"`
	StructuredCandidates []StructuredCandidate `json:"structured_candidates,omitempty"`
}

// StructuredCandidate is a caller-supplied phrase with a known structural
// origin (header, metadata, entity, ...), used for weighted re-ranking.
type StructuredCandidate struct {
	Text   string `json:"text"`
	Origin string `json:"origin"`
}

// Keyphrase is a single ranked result.
type Keyphrase struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

// KeyphraseResponse is the reply to an extract_keyphrases_keybert request.
type KeyphraseResponse struct {
	Keyphrases []Keyphrase `json:"keyphrases"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
}

// State is one value of the worker's lifecycle state machine.
type State string

const (
	StateIdle      State = "idle"
	StateLoading   State = "loading"
	StateReady     State = "ready"
	StateWorking   State = "working"
	StateUnloading State = "unloading"
	StateError     State = "error"
)

// Status is the compact reply to get_status.
type Status struct {
	State    State  `json:"state"`
	Model    string `json:"model,omitempty"`
	Progress int    `json:"progress"`
}

// HealthStatus is the reply to health_check.
type HealthStatus struct {
	Status          string  `json:"status"`
	State           State   `json:"state"`
	LoadingProgress int     `json:"loading_progress"`
	CurrentModel    string  `json:"current_model,omitempty"`
	ModelLoaded     bool    `json:"model_loaded"`
	GPUAvailable    bool    `json:"gpu_available"`
	MemoryUsageMB   float64 `json:"memory_usage_mb"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	QueueSize       int     `json:"queue_size"`
	RequestID       string  `json:"request_id,omitempty"`
}
