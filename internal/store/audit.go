package store

import (
	"time"

	"github.com/rs/zerolog/log"
)

// AuditRecord is one entry in the terminal tool's append-only audit trail
// (spec.md §6: "one record per command: timestamp, working directory,
// command string, exit code, wall-clock duration").
type AuditRecord struct {
	Timestamp  time.Time
	WorkingDir string
	Command    string
	ExitCode   int
	Duration   time.Duration
}

// AppendAudit writes one audit record. It never truncates the command
// string and never deletes prior rows. No-op on a nil receiver so callers
// that run without a store configured incur no cost.
func (c *Cache) AppendAudit(rec AuditRecord) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.Exec(
		`INSERT INTO audit_log (timestamp, working_dir, command, exit_code, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp.Unix(), rec.WorkingDir, rec.Command, rec.ExitCode, rec.Duration.Milliseconds(),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to append audit record")
	}
}
