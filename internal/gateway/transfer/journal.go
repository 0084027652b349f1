package transfer

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FileJournal appends every record state transition as a JSON line. The
// salt written with each entry is the idempotency key for resubmission
// detection after a crash: on-chain and custodial-signer state remain the
// source of truth, the journal tells an operator which salts were already
// in flight.
type FileJournal struct {
	mu   sync.Mutex
	path string
}

// NewFileJournal creates a journal appending to path.
func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

type journalEntry struct {
	At     time.Time `json:"at"`
	Record *Record   `json:"record"`
}

// Record appends the record's current state. Journal failures are logged,
// never propagated: bookkeeping must not fail a settlement step.
func (j *FileJournal) Record(rec *Record) {
	j.mu.Lock()
	defer j.mu.Unlock()

	raw, err := json.Marshal(journalEntry{At: time.Now().UTC(), Record: rec})
	if err != nil {
		log.Error().Err(err).Msg("TransferJournal: failed to marshal record")
		return
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("TransferJournal: failed to open journal")
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		log.Error().Err(err).Str("path", j.path).Msg("TransferJournal: failed to append record")
	}
}
