package rpc

import (
	"context"
	"encoding/json"

	"github.com/dockerish/embedworker/pkg/embedding"
)

// Request is a single inbound JSON-RPC 2.0 call. ID is nil for a
// notification, which suppresses any reply.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a single outbound JSON-RPC 2.0 reply.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

// handlerFunc is the shape every registered method handler implements.
type handlerFunc func(ctx context.Context, w *Worker, params json.RawMessage) (any, error)

// methodTable maps RPC method names to their handlers. shutdown is handled
// specially by the Dispatcher since it also needs to terminate the read
// loop.
var methodTable = map[string]handlerFunc{
	"generate_embeddings":              handleGenerateEmbeddings,
	"extract_keyphrases_keybert":       handleExtractKeyphrases,
	"extract_keyphrases_keybert_batch": handleExtractKeyphrasesBatch,
	"is_keybert_available":             handleIsKeyBERTAvailable,
	"health_check":                     handleHealthCheck,
	"get_status":                       handleGetStatus,
	"load_model":                       handleLoadModel,
	"unload_model":                     handleUnloadModel,
	"is_model_cached":                  handleIsModelCached,
	"download_model":                   handleDownloadModel,
	"list_models":                      handleListModels,
}

func handleGenerateEmbeddings(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req embedding.EmbeddingRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}
	if len(req.Texts) == 0 {
		return nil, newError(ErrCodeInvalidParams, "texts must be non-empty")
	}
	return w.GenerateEmbeddings(ctx, req), nil
}

func handleExtractKeyphrases(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req embedding.KeyphraseRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}
	return w.ExtractKeyphrases(ctx, req), nil
}

func handleExtractKeyphrasesBatch(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req struct {
		Texts []string `json:"texts"`
		embedding.KeyphraseRequest
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}

	results := make([]embedding.KeyphraseResponse, len(req.Texts))
	for i, text := range req.Texts {
		single := req.KeyphraseRequest
		single.Text = text
		resp := w.ExtractKeyphrases(ctx, single)
		if !resp.Success {
			resp = embedding.KeyphraseResponse{Keyphrases: []embedding.Keyphrase{}, Success: true}
		}
		results[i] = resp
	}
	return results, nil
}

func handleIsKeyBERTAvailable(_ context.Context, w *Worker, _ json.RawMessage) (any, error) {
	return map[string]bool{"available": w.IsKeyBERTAvailable()}, nil
}

func handleHealthCheck(_ context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req struct {
		RequestID string `json:"request_id"`
	}
	_ = json.Unmarshal(params, &req)
	return w.HealthStatus(req.RequestID), nil
}

func handleGetStatus(_ context.Context, w *Worker, _ json.RawMessage) (any, error) {
	return w.Lifecycle().Status(), nil
}

func handleLoadModel(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}
	if req.ModelID == "" {
		return nil, newError(ErrCodeInvalidParams, "model_id is required")
	}

	err := w.Lifecycle().LoadModel(ctx, req.ModelID, func(abortErr error) {
		w.Scheduler().AbortQueued(abortErr)
	})
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "model": req.ModelID}, nil
}

func handleUnloadModel(ctx context.Context, w *Worker, _ json.RawMessage) (any, error) {
	if err := w.Lifecycle().UnloadModel(ctx); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}

func handleIsModelCached(_ context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}
	return map[string]bool{"cached": w.IsModelCached(req.ModelID)}, nil
}

func handleDownloadModel(ctx context.Context, w *Worker, params json.RawMessage) (any, error) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, newError(ErrCodeInvalidParams, err.Error())
	}
	if err := w.DownloadModel(ctx, req.ModelID); err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true}, nil
}

func handleListModels(_ context.Context, w *Worker, _ json.RawMessage) (any, error) {
	return map[string]any{"models": w.ListModels()}, nil
}
