package events

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"missionctl/internal/domain"
)

// JSONLSink appends one JSON object per line.
type JSONLSink struct {
	Path string

	mu sync.Mutex
}

func (s *JSONLSink) Append(ctx context.Context, e domain.Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Tail skips malformed lines, such as a torn final write. Lines of any
// length are read, so one oversized entry costs only itself.
func (s *JSONLSink) Tail(ctx context.Context, limit int) ([]domain.Event, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []domain.Event
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var e domain.Event
			if jerr := json.Unmarshal(line, &e); jerr == nil && e.ID != "" {
				out = append(out, e)
				if limit > 0 && len(out) > 2*limit {
					out = append(out[:0], out[len(out)-limit:]...)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// SQLSink stores events in the events table.
type SQLSink struct {
	DB *sql.DB
}

func (s SQLSink) Append(ctx context.Context, e domain.Event) error {
	var data any
	if len(e.Data) > 0 {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("marshal event data: %w", err)
		}
		data = string(raw)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT OR IGNORE INTO events(id,ts,source,type,agent_id,task_id,parent_id,message,data_json) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TS, string(e.Source), e.Type, nullable(e.AgentID), nullable(e.TaskID), nullable(e.ParentID), e.Message, data)
	return err
}

func (s SQLSink) Tail(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT id,ts,source,type,agent_id,task_id,parent_id,message,data_json FROM events ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var source string
		var agentID, taskID, parentID, data sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &source, &e.Type, &agentID, &taskID, &parentID, &e.Message, &data); err != nil {
			return nil, err
		}
		e.Source = domain.EventSource(source)
		e.AgentID = agentID.String
		e.TaskID = taskID.String
		e.ParentID = parentID.String
		if data.Valid && data.String != "" {
			_ = json.Unmarshal([]byte(data.String), &e.Data)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
