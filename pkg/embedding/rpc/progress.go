package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressNotification is the params payload of an unsolicited
// progress_update notification.
type ProgressNotification struct {
	Type      string `json:"type"`
	Status    string `json:"status"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Timestamp int64  `json:"timestamp"`
	Details   string `json:"details,omitempty"`
	Message   string `json:"message,omitempty"`
}

// notificationEnvelope wraps a notification in the JSON-RPC 2.0 shape; it
// carries no id, since notifications never receive a reply.
type notificationEnvelope struct {
	JSONRPC string               `json:"jsonrpc"`
	Method  string               `json:"method"`
	Params  ProgressNotification `json:"params"`
}

// ProgressEmitter serializes unsolicited progress_update notifications
// onto the shared stdout stream without interleaving a partial line with a
// reply. It shares the same output mutex the Dispatcher uses for replies.
type ProgressEmitter struct {
	mu  *sync.Mutex
	out io.Writer
}

// NewProgressEmitter creates a ProgressEmitter writing to out, guarded by
// mu (the same mutex the owning Dispatcher uses for its own replies).
func NewProgressEmitter(out io.Writer, mu *sync.Mutex) *ProgressEmitter {
	return &ProgressEmitter{mu: mu, out: out}
}

// Emit writes one progress_update notification line.
func (p *ProgressEmitter) Emit(notificationType, status string, current, total int, message string) error {
	env := notificationEnvelope{
		JSONRPC: "2.0",
		Method:  "progress_update",
		Params: ProgressNotification{
			Type:      notificationType,
			Status:    status,
			Current:   current,
			Total:     total,
			Timestamp: time.Now().Unix(),
			Message:   message,
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling progress notification: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = fmt.Fprintf(p.out, "%s\n", data)
	return err
}

// ModelLoadStart signals the beginning of a load_model operation.
func (p *ProgressEmitter) ModelLoadStart(modelID string) {
	_ = p.Emit("model_load", "loading", 0, 100, "loading "+modelID)
}

// ModelLoadProgress reports incremental load_model progress.
func (p *ProgressEmitter) ModelLoadProgress(pct int) {
	_ = p.Emit("model_load", "loading", pct, 100, "")
}

// ModelLoadComplete signals load_model completion.
func (p *ProgressEmitter) ModelLoadComplete(modelID string) {
	_ = p.Emit("model_load", "ready", 100, 100, "loaded "+modelID)
}

// BatchStart signals the beginning of an encode batch.
func (p *ProgressEmitter) BatchStart(current, total int) {
	_ = p.Emit("encode", "working", current, total, "")
}

// BatchEnd signals the end of an encode batch.
func (p *ProgressEmitter) BatchEnd(current, total int) {
	_ = p.Emit("encode", "working", current, total, "")
}

// MemoryReclaim signals a memory-reclaim pass between batches.
func (p *ProgressEmitter) MemoryReclaim(current, total int) {
	_ = p.Emit("encode", "cleaning_memory", current, total, "")
}

// UnloadStart signals the beginning of model unload.
func (p *ProgressEmitter) UnloadStart() {
	_ = p.Emit("model_unload", "unloading", 0, 1, "")
}

// UnloadComplete signals the end of model unload.
func (p *ProgressEmitter) UnloadComplete() {
	_ = p.Emit("model_unload", "idle", 1, 1, "")
}
