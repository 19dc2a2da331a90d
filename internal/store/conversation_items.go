// conversation_items.go: 线程条目快照的 PostgreSQL 存储 (jsonb payload)。
package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codexmonitor/agent-monitor/internal/conversation"
	apperrors "github.com/codexmonitor/agent-monitor/pkg/errors"
	"github.com/codexmonitor/agent-monitor/pkg/logger"
)

var itemCopyColumns = []string{"thread_id", "position", "item_id", "kind", "payload"}

// ThreadRecord conversation_threads 行。
type ThreadRecord struct {
	ThreadID  string    `db:"thread_id" json:"threadId"`
	ItemCount int       `db:"item_count" json:"itemCount"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ConversationItemStore 按线程整体读写条目列表。
type ConversationItemStore struct{ BaseStore }

// NewConversationItemStore 创建存储。
func NewConversationItemStore(pool *pgxpool.Pool) *ConversationItemStore {
	return &ConversationItemStore{NewBaseStore(pool)}
}

// LoadThreadItems 按 position 顺序读取线程条目。线程不存在时返回 ErrNotFound。
func (s *ConversationItemStore) LoadThreadItems(ctx context.Context, threadID string) ([]conversation.Item, error) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "ConversationItemStore.LoadThreadItems", "thread id required")
	}

	var count int
	err := s.pool.QueryRow(ctx, `SELECT item_count FROM conversation_threads WHERE thread_id = $1`, threadID).Scan(&count)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrapf(apperrors.ErrNotFound, "ConversationItemStore.LoadThreadItems", "thread %q", threadID)
		}
		return nil, apperrors.Wrap(err, "ConversationItemStore.LoadThreadItems", "query thread")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM conversation_items WHERE thread_id = $1 ORDER BY position`, threadID)
	if err != nil {
		return nil, apperrors.Wrap(err, "ConversationItemStore.LoadThreadItems", "query items")
	}
	defer rows.Close()

	items := make([]conversation.Item, 0, count)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, apperrors.Wrap(err, "ConversationItemStore.LoadThreadItems", "scan item")
		}
		item, err := decodeItem(payload)
		if err != nil {
			logger.Warn("store: skipping undecodable item",
				logger.FieldThreadID, threadID,
				logger.FieldError, err,
			)
			continue
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "ConversationItemStore.LoadThreadItems", "iterate items")
	}
	return items, nil
}

// SaveThreadItems 在一个事务内替换线程的全部条目。
func (s *ConversationItemStore) SaveThreadItems(ctx context.Context, threadID string, items []conversation.Item) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "ConversationItemStore.SaveThreadItems", "thread id required")
	}
	rows, err := encodeItemRows(threadID, items)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, "ConversationItemStore.SaveThreadItems", "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_threads (thread_id, item_count, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (thread_id) DO UPDATE SET
			item_count = EXCLUDED.item_count,
			updated_at = NOW()
	`, threadID, len(rows)); err != nil {
		return apperrors.Wrap(err, "ConversationItemStore.SaveThreadItems", "upsert thread")
	}
	if _, err := tx.Exec(ctx, `DELETE FROM conversation_items WHERE thread_id = $1`, threadID); err != nil {
		return apperrors.Wrap(err, "ConversationItemStore.SaveThreadItems", "clear items")
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"conversation_items"}, itemCopyColumns, pgx.CopyFromRows(rows)); err != nil {
			return apperrors.Wrap(err, "ConversationItemStore.SaveThreadItems", "copy items")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, "ConversationItemStore.SaveThreadItems", "commit")
	}
	return nil
}

// ListThreads 列出已存储线程, 按更新时间倒序。keyword 匹配 thread_id。
func (s *ConversationItemStore) ListThreads(ctx context.Context, keyword string, limit int) ([]ThreadRecord, error) {
	sql, params := NewQueryBuilder().
		KeywordLike(keyword, "thread_id").
		Build(`SELECT thread_id, item_count, updated_at FROM conversation_threads`, "updated_at DESC, thread_id", limit)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "ConversationItemStore.ListThreads", "query threads")
	}
	records, err := collectRows[ThreadRecord](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "ConversationItemStore.ListThreads", "scan threads")
	}
	return records, nil
}

// DeleteThread 删除线程及其条目。
func (s *ConversationItemStore) DeleteThread(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversation_threads WHERE thread_id = $1`, threadID)
	if err != nil {
		return apperrors.Wrap(err, "ConversationItemStore.DeleteThread", "delete thread")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Wrapf(apperrors.ErrNotFound, "ConversationItemStore.DeleteThread", "thread %q", threadID)
	}
	return nil
}

// encodeItemRows 将条目编码为 CopyFrom 行。条目 id 必须非空且唯一。
func encodeItemRows(threadID string, items []conversation.Item) ([][]any, error) {
	rows := make([][]any, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if item.ID == "" {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "encodeItemRows", "item %d has empty id", i)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "encodeItemRows", "duplicate item id %q", item.ID)
		}
		seen[item.ID] = struct{}{}
		payload, err := json.Marshal(item)
		if err != nil {
			return nil, apperrors.Wrapf(err, "encodeItemRows", "marshal item %q", item.ID)
		}
		rows = append(rows, []any{threadID, i, item.ID, string(item.Kind), payload})
	}
	return rows, nil
}

func decodeItem(payload []byte) (conversation.Item, error) {
	var item conversation.Item
	if err := json.Unmarshal(payload, &item); err != nil {
		return conversation.Item{}, apperrors.Wrap(err, "decodeItem", "unmarshal item")
	}
	if item.ID == "" {
		return conversation.Item{}, apperrors.Wrap(apperrors.ErrInvalidInput, "decodeItem", "item without id")
	}
	return item, nil
}
