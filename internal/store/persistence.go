package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/zhouzirui/faustus/internal/model/chat"
	"github.com/zhouzirui/faustus/internal/service/session"
)

// Keys of the persisted layout, shared with the browser front-end.
const (
	KeyHistories   = "chatHistories"
	KeyActiveIndex = "currentChatIndex"
)

// StorageError reports a failed save. The in-memory state stays authoritative.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + " failed: " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Persistence loads and saves session snapshots through a KV.
type Persistence struct {
	kv KV
}

// NewPersistence wraps kv.
func NewPersistence(kv KV) *Persistence {
	return &Persistence{kv: kv}
}

// Load reads the stored snapshot. The boolean is false when nothing was saved yet.
func (p *Persistence) Load(ctx context.Context) (session.Snapshot, bool, error) {
	raw, ok, err := p.kv.Get(ctx, KeyHistories)
	if err != nil {
		return session.Snapshot{}, false, &StorageError{Op: "load", Err: err}
	}
	if !ok {
		return session.Snapshot{}, false, nil
	}

	var histories []chat.Conversation
	if err := json.Unmarshal([]byte(raw), &histories); err != nil {
		return session.Snapshot{}, false, &StorageError{Op: "load", Err: errors.Wrap(err, "failed to decode chat histories")}
	}

	active := 0
	rawIndex, ok, err := p.kv.Get(ctx, KeyActiveIndex)
	if err != nil {
		return session.Snapshot{}, false, &StorageError{Op: "load", Err: err}
	}
	if ok {
		// A malformed index falls back to the first conversation.
		if parsed, err := strconv.Atoi(strings.TrimSpace(rawIndex)); err == nil {
			active = parsed
		}
	}

	return session.Snapshot{Conversations: histories, ActiveIndex: active}, true, nil
}

// Save writes both keys atomically.
func (p *Persistence) Save(ctx context.Context, snapshot session.Snapshot) error {
	histories := snapshot.Conversations
	if histories == nil {
		histories = []chat.Conversation{}
	}
	payload, err := json.Marshal(histories)
	if err != nil {
		return &StorageError{Op: "save", Err: errors.Wrap(err, "failed to encode chat histories")}
	}

	if err := p.kv.PutAll(ctx, map[string]string{
		KeyHistories:   string(payload),
		KeyActiveIndex: strconv.Itoa(snapshot.ActiveIndex),
	}); err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	return nil
}
