package store

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// SubagentRecord is the persisted outcome of one subagent run (spec.md §3,
// §4.6). The secondary parent_id -> children mapping lets a caller
// reconstruct the full spawn tree for a root conversation.
type SubagentRecord struct {
	ID               string
	ParentID         string
	Label            string
	Depth            int
	CompletionStatus string // "complete" or "incomplete"
	TurnsUsed        int
	MaxTurnsReached  bool
	TokensConsumed   int
	AllowedTools     []string
	StartedAt        time.Time
	CompletedAt      time.Time
}

// SaveSubagentRecord persists r. No-op on a nil Cache.
func (c *Cache) SaveSubagentRecord(r SubagentRecord) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	allowed, err := json.Marshal(r.AllowedTools)
	if err != nil {
		allowed = []byte("[]")
	}

	_, err = c.db.Exec(
		`INSERT OR REPLACE INTO subagent_records
			(id, parent_id, label, depth, completion_status, turns_used,
			 max_turns_reached, tokens_consumed, allowed_tools, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParentID, r.Label, r.Depth, r.CompletionStatus, r.TurnsUsed,
		boolToInt(r.MaxTurnsReached), r.TokensConsumed, string(allowed),
		r.StartedAt.Unix(), r.CompletedAt.Unix(),
	)
	if err != nil {
		log.Warn().Err(err).Str("id", r.ID).Msg("failed to save subagent record")
	}
	return err
}

// ChildRecords returns every subagent record whose parent_id is parentID,
// ordered by id (sortable ids make this chronological).
func (c *Cache) ChildRecords(parentID string) ([]SubagentRecord, error) {
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.Query(
		`SELECT id, parent_id, label, depth, completion_status, turns_used,
		        max_turns_reached, tokens_consumed, allowed_tools, started_at, completed_at
		 FROM subagent_records WHERE parent_id = ? ORDER BY id`, parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubagentRecord
	for rows.Next() {
		r, err := scanSubagentRecord(rows)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubagentRecord(row rowScanner) (SubagentRecord, error) {
	var r SubagentRecord
	var maxReached int
	var allowed string
	var started, completed int64
	if err := row.Scan(
		&r.ID, &r.ParentID, &r.Label, &r.Depth, &r.CompletionStatus, &r.TurnsUsed,
		&maxReached, &r.TokensConsumed, &allowed, &started, &completed,
	); err != nil {
		return SubagentRecord{}, err
	}
	r.MaxTurnsReached = maxReached != 0
	r.StartedAt = time.Unix(started, 0)
	r.CompletedAt = time.Unix(completed, 0)
	_ = json.Unmarshal([]byte(allowed), &r.AllowedTools)
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
