package gate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// JournalStore persists approval records as an append-only JSONL journal.
// Updates are new lines, never in-place edits; on open the journal is
// replayed and folded by id, last write wins. A write error fails the
// mutating call and leaves the in-memory map untouched.
type JournalStore struct {
	path string
	log  *slog.Logger

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	recs map[string]ApprovalRecord
}

// journalLine is the wire form of one record revision.
type journalLine struct {
	ID         string         `json:"id"`
	Desc       string         `json:"desc"`
	Meta       map[string]any `json:"meta,omitempty"`
	Status     Status         `json:"status"`
	Amount     *float64       `json:"amount"`
	Currency   string         `json:"currency,omitempty"`
	Created    int64          `json:"created"`
	Approver   string         `json:"approver,omitempty"`
	ApprovedAt *int64         `json:"approved_at,omitempty"`
	DeniedBy   string         `json:"denied_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	DeniedAt   *int64         `json:"denied_at,omitempty"`
	Executed   bool           `json:"executed,omitempty"`
}

func NewJournalStore(path string, log *slog.Logger) (*JournalStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("missing journal path")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &JournalStore{
		path: path,
		log:  log,
		recs: make(map[string]ApprovalRecord),
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JournalStore) Create(ctx context.Context, rec ApprovalRecord) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = NewApprovalID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusPending
	rec.Executed = false
	rec.ResolvedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.recs[rec.ID]; exists {
		return "", fmt.Errorf("duplicate approval id %q", rec.ID)
	}
	if err := s.appendLocked(rec); err != nil {
		return "", fmt.Errorf("persist approval %s: %w", rec.ID, err)
	}
	s.recs[rec.ID] = rec
	return rec.ID, nil
}

func (s *JournalStore) Get(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	if err := ctxErr(ctx); err != nil {
		return ApprovalRecord{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[strings.TrimSpace(id)]
	return rec, ok, nil
}

func (s *JournalStore) Resolve(ctx context.Context, id string, status Status, actor, reason string, committed func(ApprovalRecord)) (ApprovalRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return ApprovalRecord{}, err
	}
	if !status.Terminal() {
		return ApprovalRecord{}, fmt.Errorf("%w: %q", ErrNotTerminal, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[strings.TrimSpace(id)]
	if !ok {
		return ApprovalRecord{}, ErrNotFound
	}
	if rec.Status != StatusPending {
		return rec, ErrAlreadyResolved
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.ResolvedAt = &now
	rec.Reason = strings.TrimSpace(reason)
	if status == StatusDenied {
		rec.DeniedBy = strings.TrimSpace(actor)
	} else {
		rec.Approver = strings.TrimSpace(actor)
	}

	if err := s.appendLocked(rec); err != nil {
		return ApprovalRecord{}, fmt.Errorf("persist resolution of %s: %w", rec.ID, err)
	}
	// The callback runs under the store lock so readers cannot observe
	// the terminal status before it returns.
	if committed != nil {
		committed(rec)
	}
	s.recs[rec.ID] = rec
	return rec, nil
}

func (s *JournalStore) MarkExecuted(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.recs[strings.TrimSpace(id)]
	if !ok {
		return ErrNotFound
	}
	if rec.Executed {
		return ErrAlreadyExecuted
	}
	rec.Executed = true
	if err := s.appendLocked(rec); err != nil {
		return fmt.Errorf("persist executed flag of %s: %w", rec.ID, err)
	}
	s.recs[rec.ID] = rec
	return nil
}

func (s *JournalStore) ListPending(ctx context.Context) ([]ApprovalRecord, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ApprovalRecord, 0, 8)
	for _, rec := range s.recs {
		if rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *JournalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w != nil {
		_ = s.w.Flush()
	}
	if s.f != nil {
		err := s.f.Close()
		s.f = nil
		s.w = nil
		return err
	}
	return nil
}

func (s *JournalStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	if err := s.replayLocked(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// replayLocked folds the journal into the in-memory map. A torn line
// (crash mid-append) is skipped with a warning; the append path itself
// fails loudly, so that is the only way one can arise.
func (s *JournalStore) replayLocked() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	// ReadBytes instead of a Scanner: lines carry caller metadata and
	// can outgrow any fixed token limit.
	r := bufio.NewReaderSize(f, 64*1024)
	lineNo := 0
	for {
		b, readErr := r.ReadBytes('\n')
		if len(b) > 0 {
			lineNo++
		}
		if raw := strings.TrimSpace(string(b)); raw != "" {
			var line journalLine
			if err := json.Unmarshal([]byte(raw), &line); err != nil {
				s.log.Warn("journal_line_skipped", "path", s.path, "line", lineNo, "error", err.Error())
			} else if strings.TrimSpace(line.ID) == "" {
				s.log.Warn("journal_line_skipped", "path", s.path, "line", lineNo, "error", "missing id")
			} else {
				s.recs[line.ID] = line.record()
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (s *JournalStore) appendLocked(rec ApprovalRecord) error {
	if s.w == nil {
		return fmt.Errorf("journal is not open")
	}
	b, err := json.Marshal(lineFromRecord(rec))
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return s.w.Flush()
}

func lineFromRecord(rec ApprovalRecord) journalLine {
	line := journalLine{
		ID:       rec.ID,
		Desc:     rec.Description,
		Meta:     rec.Metadata,
		Status:   rec.Status,
		Amount:   rec.Amount,
		Currency: rec.Currency,
		Created:  rec.CreatedAt.Unix(),
		Reason:   rec.Reason,
		Executed: rec.Executed,
	}
	if rec.ResolvedAt != nil {
		at := rec.ResolvedAt.Unix()
		if rec.Status == StatusDenied {
			line.DeniedBy = rec.DeniedBy
			line.DeniedAt = &at
		} else {
			line.Approver = rec.Approver
			line.ApprovedAt = &at
		}
	}
	return line
}

func (l journalLine) record() ApprovalRecord {
	rec := ApprovalRecord{
		ID:          l.ID,
		Description: l.Desc,
		Metadata:    l.Meta,
		Amount:      l.Amount,
		Currency:    l.Currency,
		Status:      l.Status,
		CreatedAt:   time.Unix(l.Created, 0).UTC(),
		Approver:    l.Approver,
		DeniedBy:    l.DeniedBy,
		Reason:      l.Reason,
		Executed:    l.Executed,
	}
	var at *int64
	switch {
	case l.ApprovedAt != nil:
		at = l.ApprovedAt
	case l.DeniedAt != nil:
		at = l.DeniedAt
	}
	if at != nil {
		t := time.Unix(*at, 0).UTC()
		rec.ResolvedAt = &t
	}
	return rec
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
