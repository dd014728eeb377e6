package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/dockerish/embedworker/pkg/embedding"
	"github.com/dockerish/embedworker/pkg/embedding/keybert"
	"github.com/dockerish/embedworker/pkg/embedding/lifecycle"
	"github.com/dockerish/embedworker/pkg/embedding/memory"
	"github.com/dockerish/embedworker/pkg/embedding/models"
	"github.com/dockerish/embedworker/pkg/embedding/scheduling"
	"github.com/dockerish/embedworker/pkg/gpuinfo"
	"github.com/dockerish/embedworker/pkg/logging"
	"github.com/google/uuid"
)

// Worker is the single long-lived object owning every piece of process-wide
// state: the loaded model, the scheduler, the lifecycle controller, and the
// env-var-tuned knobs. It is instantiated once in main and passed
// explicitly to the dispatcher rather than exposed through package globals,
// so that it can be constructed fresh in tests.
type Worker struct {
	log        logging.Logger
	registry   *models.Registry
	cacheRoot  string
	device     gpuinfo.DeviceClass
	newEncoder func() embedding.TextEncoder

	encoder   embedding.TextEncoder
	extractor embedding.KeyphraseExtractor
	governor  *memory.Governor
	scheduler *scheduling.Scheduler
	lifecycle *lifecycle.Controller
	progress  *ProgressEmitter

	modelClass memory.ModelClass
}

// NewWorkerConfig bundles Worker construction parameters.
type NewWorkerConfig struct {
	Log         logging.Logger
	Registry    *models.Registry
	CacheRoot   string
	Device      gpuinfo.DeviceClass
	NewEncoder  func() embedding.TextEncoder
	PauseWindow time.Duration
	IdleTimeout time.Duration
	Progress    *ProgressEmitter
}

// NewWorker constructs a Worker in the IDLE state with its scheduler not
// yet running (the caller starts it via Scheduler()).
func NewWorker(cfg NewWorkerConfig) *Worker {
	w := &Worker{
		log:        cfg.Log,
		registry:   cfg.Registry,
		cacheRoot:  cfg.CacheRoot,
		device:     cfg.Device,
		newEncoder: cfg.NewEncoder,
		progress:   cfg.Progress,
		scheduler:  scheduling.NewScheduler(cfg.Log, cfg.PauseWindow),
	}
	w.lifecycle = lifecycle.New(cfg.Log, w, w, cfg.IdleTimeout)
	return w
}

// Scheduler returns the worker's scheduler, so main can drive its Run loop.
func (w *Worker) Scheduler() *scheduling.Scheduler { return w.scheduler }

// Lifecycle returns the worker's lifecycle controller.
func (w *Worker) Lifecycle() *lifecycle.Controller { return w.lifecycle }

// LoadModel implements lifecycle.Loader: it validates the model id,
// ensures it is cached (downloading it if necessary), loads it into the
// encoder, and wires a fresh governor and keyphrase extractor for it.
func (w *Worker) LoadModel(ctx context.Context, modelID string, progress func(pct int)) error {
	if err := w.registry.Validate(modelID); err != nil {
		return err
	}

	w.progress.ModelLoadStart(modelID)
	progress(0)

	if !models.IsCached(w.cacheRoot, modelID) {
		if err := models.Download(ctx, w.log, w.cacheRoot, modelID); err != nil {
			return fmt.Errorf("downloading model %s: %w", modelID, err)
		}
	}
	progress(50)

	encoder := w.newEncoder()
	if err := encoder.Load(ctx, modelID, string(w.device)); err != nil {
		return fmt.Errorf("loading model %s: %w", modelID, err)
	}

	w.encoder = encoder
	w.governor = memory.NewGovernor(w.log, encoder, w.device)
	w.extractor = keybert.New(encoder)
	w.modelClass = memory.ClassifyContextWindow(encoder.ContextWindow())

	progress(100)
	w.progress.ModelLoadComplete(modelID)
	return nil
}

// ReleaseModel implements lifecycle.Releaser: it unloads the encoder and
// clears the worker's per-model state.
func (w *Worker) ReleaseModel(ctx context.Context) error {
	w.progress.UnloadStart()
	defer w.progress.UnloadComplete()

	if w.encoder == nil {
		return nil
	}
	err := w.encoder.Unload(ctx)
	w.encoder = nil
	w.governor = nil
	w.extractor = nil
	return err
}

// GenerateEmbeddings admits req through the lifecycle controller and
// scheduler, blocking until the scheduler worker completes it.
func (w *Worker) GenerateEmbeddings(ctx context.Context, req embedding.EmbeddingRequest) embedding.EmbeddingResponse {
	start := time.Now()
	priority := embedding.PriorityBatch
	if req.Immediate {
		priority = embedding.PriorityImmediate
	}

	handle, err := w.lifecycle.TryAdmit()
	if err != nil {
		return embedding.EmbeddingResponse{Success: false, Error: err.Error(), CorrelationID: req.CorrelationID}
	}
	w.lifecycle.RecordRequest(req.Immediate)

	slot := w.scheduler.Submit(priority, func(ctx context.Context) (any, error) {
		return w.encodeNow(ctx, req)
	})

	result, err := slot.Await(ctx)
	handle.Release(w.scheduler.QueueSize() == 0)

	if err != nil {
		return embedding.EmbeddingResponse{Success: false, Error: err.Error(), CorrelationID: req.CorrelationID}
	}
	resp := result.(embedding.EmbeddingResponse)
	resp.ProcessingMS = time.Since(start).Milliseconds()
	return resp
}

// encodeNow performs the actual encode, called on the scheduler's single
// worker goroutine.
func (w *Worker) encodeNow(ctx context.Context, req embedding.EmbeddingRequest) (embedding.EmbeddingResponse, error) {
	if w.governor == nil {
		return embedding.EmbeddingResponse{
			Success:       false,
			Error:         "no model loaded",
			CorrelationID: req.CorrelationID,
		}, nil
	}

	total := len(req.Texts)
	rows, err := w.governor.Encode(ctx, req.Texts, w.modelClass, func(event string, current, total int) {
		switch event {
		case "batch_start":
			w.progress.BatchStart(current, total)
		case "batch_end":
			w.progress.BatchEnd(current, total)
		case "cleaning_memory":
			w.progress.MemoryReclaim(current, total)
		}
	})
	if err != nil {
		return embedding.EmbeddingResponse{
			Success:       false,
			Error:         err.Error(),
			CorrelationID: req.CorrelationID,
		}, nil
	}

	vectors := make([]embedding.EmbeddingVector, total)
	now := time.Now()
	for i, row := range rows {
		vectors[i] = embedding.EmbeddingVector{
			Vector:    row,
			Model:     w.lifecycle.CurrentModel(),
			CreatedAt: now,
			ChunkID:   uuid.NewString(),
		}
	}

	return embedding.EmbeddingResponse{
		Embeddings:    vectors,
		Success:       true,
		CorrelationID: req.CorrelationID,
		ModelInfo: map[string]any{
			"model": w.lifecycle.CurrentModel(),
			"dim":   w.encoder.EmbeddingDim(),
		},
	}, nil
}

// ExtractKeyphrases runs keyphrase extraction directly on the scheduler
// goroutine (priority-batch) since it also uses the non-reentrant encoder.
func (w *Worker) ExtractKeyphrases(ctx context.Context, req embedding.KeyphraseRequest) embedding.KeyphraseResponse {
	handle, err := w.lifecycle.TryAdmit()
	if err != nil {
		return embedding.KeyphraseResponse{Success: false, Error: err.Error()}
	}

	slot := w.scheduler.Submit(embedding.PriorityBatch, func(ctx context.Context) (any, error) {
		if w.extractor == nil {
			return nil, fmt.Errorf("no model loaded")
		}
		phrases, err := w.extractor.Extract(ctx, req)
		return phrases, err
	})

	result, err := slot.Await(ctx)
	handle.Release(w.scheduler.QueueSize() == 0)

	if err != nil {
		return embedding.KeyphraseResponse{Success: false, Error: err.Error()}
	}
	return embedding.KeyphraseResponse{Keyphrases: result.([]embedding.Keyphrase), Success: true}
}

// IsKeyBERTAvailable reports whether keyphrase extraction can currently
// run.
func (w *Worker) IsKeyBERTAvailable() bool {
	return w.extractor != nil && w.extractor.Available()
}

// HealthStatus builds the health_check reply.
func (w *Worker) HealthStatus(requestID string) embedding.HealthStatus {
	status := w.lifecycle.Status()
	statusWord := map[embedding.State]string{
		embedding.StateIdle:      "idle",
		embedding.StateLoading:   "loading",
		embedding.StateReady:     "healthy",
		embedding.StateWorking:   "healthy",
		embedding.StateUnloading: "unloading",
		embedding.StateError:     "error",
	}[status.State]

	var memMB float64
	if w.encoder != nil {
		_, bytes := gpuinfo.New("").MemoryHint(w.device)
		memMB = float64(bytes) / 1024 / 1024
	}

	return embedding.HealthStatus{
		Status:          statusWord,
		State:           status.State,
		LoadingProgress: status.Progress,
		CurrentModel:    status.Model,
		ModelLoaded:     w.encoder != nil,
		GPUAvailable:    w.device == gpuinfo.DeviceCUDA || w.device == gpuinfo.DeviceAppleUnified,
		MemoryUsageMB:   memMB,
		UptimeSeconds:   w.lifecycle.Uptime().Seconds(),
		QueueSize:       w.scheduler.QueueSize(),
		RequestID:       requestID,
	}
}

// IsModelCached answers is_model_cached.
func (w *Worker) IsModelCached(modelID string) bool {
	return models.IsCached(w.cacheRoot, modelID)
}

// DownloadModel answers download_model, respecting an already-cached
// model.
func (w *Worker) DownloadModel(ctx context.Context, modelID string) error {
	if err := w.registry.Validate(modelID); err != nil {
		return err
	}
	return models.Download(ctx, w.log, w.cacheRoot, modelID)
}

// ListModels answers list_models.
func (w *Worker) ListModels() []string {
	return w.registry.List()
}
