// Package parser implements the Conversation Parser: reading one task
// directory's API/UI message histories and metadata file into a
// ConversationSkeleton, tolerant of BOM/UTF-16/trailing-garbage, never
// throwing on a single file's failure.
package parser

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/convstate/core/internal/hierarchy"
	"github.com/convstate/core/internal/skeleton"
	"github.com/convstate/core/internal/storageio"

	. "github.com/convstate/core/internal/logging"
)

const (
	apiHistoryFile  = "api_conversation_history.json"
	uiHistoryFile   = "ui_messages.json"
	taskMetaFile    = "task_metadata.json"
	maxInstructionLen = 500
	maxSummaryLen     = 280
)

// Parser builds ConversationSkeleton records from task directories.
type Parser struct {
	io storageio.StorageIO
}

// New constructs a Parser backed by io.
func New(io storageio.StorageIO) *Parser {
	return &Parser{io: io}
}

// normalizedMessage is the parser's internal, order-preserving view of one
// message, used both for field extraction and for content-hash computation.
type normalizedMessage struct {
	role      string
	text      string
	timestamp time.Time
	size      int
	newTasks  []string // instruction text for every new_task-style tool call this message issued
}

// ParseTaskDirectory builds a skeleton for the task directory at dir. It
// never returns an error for a single malformed file: failures degrade the
// skeleton (parentResolutionMethod = unresolved, zeroed fields) rather than
// propagating. A non-nil error is returned only if dir itself cannot be
// statted (the caller should treat that as "directory vanished").
func (p *Parser) ParseTaskDirectory(dir string) (*skeleton.Skeleton, error) {
	taskID := filepath.Base(dir)
	entry, err := p.io.Stat(dir)
	if err != nil {
		return nil, err
	}

	sk := &skeleton.Skeleton{
		TaskID:                 taskID,
		FilePath:               dir,
		DataSource:             dir,
		ParentResolutionMethod: skeleton.MethodUnresolved,
		DirMTime:               entry.ModTime,
	}

	var messages []normalizedMessage

	if raw, err := p.io.ReadFile(filepath.Join(dir, apiHistoryFile)); err == nil {
		msgs, derr := p.parseAPIHistory(raw)
		if derr != nil {
			L_warn("api history parse error, degrading skeleton", "task", taskID, "err", derr)
		}
		messages = append(messages, msgs...)
	}

	if raw, err := p.io.ReadFile(filepath.Join(dir, uiHistoryFile)); err == nil {
		msgs, derr := p.parseUIHistory(raw)
		if derr != nil {
			L_warn("ui history parse error, degrading skeleton", "task", taskID, "err", derr)
		}
		messages = append(messages, msgs...)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].timestamp.Before(messages[j].timestamp)
	})

	p.applyMessages(sk, messages)
	sk.ContentHash = contentHash(messages)

	if raw, err := p.io.ReadFile(filepath.Join(dir, taskMetaFile)); err == nil {
		meta, derr := decodeTaskMetadata(raw)
		if derr != nil {
			L_warn("task metadata parse error, degrading skeleton", "task", taskID, "err", derr)
		} else {
			p.applyMetadata(sk, meta)
		}
	}

	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = entry.ModTime
	}
	if sk.LastActivity.IsZero() || sk.LastActivity.Before(sk.CreatedAt) {
		sk.LastActivity = sk.CreatedAt
	}

	return sk, nil
}

// MessageLines re-reads dir's API and UI message histories and returns each
// message's text as one line, in chronological order, for the vector
// indexer to chunk. The skeleton cache never retains raw message bodies, so
// indexing always re-reads from disk at chunk time.
func (p *Parser) MessageLines(dir string) ([]string, error) {
	var messages []normalizedMessage

	if raw, err := p.io.ReadFile(filepath.Join(dir, apiHistoryFile)); err == nil {
		msgs, derr := p.parseAPIHistory(raw)
		if derr != nil {
			return nil, derr
		}
		messages = append(messages, msgs...)
	}
	if raw, err := p.io.ReadFile(filepath.Join(dir, uiHistoryFile)); err == nil {
		msgs, derr := p.parseUIHistory(raw)
		if derr != nil {
			return nil, derr
		}
		messages = append(messages, msgs...)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].timestamp.Before(messages[j].timestamp)
	})

	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.text) == "" {
			continue
		}
		lines = append(lines, m.text)
	}
	return lines, nil
}

func (p *Parser) parseAPIHistory(raw []byte) ([]normalizedMessage, error) {
	msgs, err := decodeAPIMessages(raw)
	if err != nil {
		return nil, err
	}
	out := make([]normalizedMessage, 0, len(msgs))
	for _, m := range msgs {
		blocks := decodeContent(m.Content)
		nm := normalizedMessage{role: m.Role, timestamp: resolveTimestamp(m.Timestamp, m.CreatedAt)}
		var textParts []string
		for _, b := range blocks {
			switch b.Type {
			case "text", "":
				if b.Text != "" {
					textParts = append(textParts, b.Text)
				}
			case "tool_use":
				if b.Name == "new_task" {
					var in newTaskInput
					_ = decodeJSONDocument(b.Input, &in)
					if instr := in.instructionText(); instr != "" {
						nm.newTasks = append(nm.newTasks, instr)
					}
				}
			}
		}
		nm.text = strings.Join(textParts, "\n")
		nm.size = len(m.Content) + len(nm.text)
		out = append(out, nm)
	}
	return out, nil
}

func (p *Parser) parseUIHistory(raw []byte) ([]normalizedMessage, error) {
	events, err := decodeUIEvents(raw)
	if err != nil {
		return nil, err
	}
	out := make([]normalizedMessage, 0, len(events))
	for _, e := range events {
		if e.Type != "say" || e.Text == "" {
			continue
		}
		role := "assistant"
		if e.Say == "user_feedback" || e.Say == "user" {
			role = "user"
		}
		out = append(out, normalizedMessage{
			role:      role,
			text:      e.Text,
			timestamp: resolveTimestamp(e.Timestamp, ""),
			size:      len(e.Text),
		})
	}
	return out, nil
}

func resolveTimestamp(unixMS int64, iso string) time.Time {
	if unixMS > 0 {
		return time.UnixMilli(unixMS).UTC()
	}
	if iso != "" {
		if t, err := time.Parse(time.RFC3339, iso); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (p *Parser) applyMessages(sk *skeleton.Skeleton, messages []normalizedMessage) {
	sk.MessageCount = len(messages)

	var totalSize int64
	var firstInstruction string
	var childPrefixes []string

	for _, m := range messages {
		totalSize += int64(m.size)
		if !m.timestamp.IsZero() {
			if sk.CreatedAt.IsZero() || m.timestamp.Before(sk.CreatedAt) {
				sk.CreatedAt = m.timestamp
			}
			if m.timestamp.After(sk.LastActivity) {
				sk.LastActivity = m.timestamp
			}
		}
		if firstInstruction == "" && m.role == "user" && strings.TrimSpace(m.text) != "" {
			firstInstruction = m.text
		}
		for _, nt := range m.newTasks {
			childPrefixes = append(childPrefixes, hierarchy.Normalize(nt))
		}
	}

	sk.TotalSize = totalSize
	sk.TruncatedInstruction = truncate(firstInstruction, maxInstructionLen)
	sk.ChildTaskInstructionPrefixes = childPrefixes
	if firstInstruction != "" {
		sk.Summary = truncate(firstInstruction, maxSummaryLen)
	}
}

func (p *Parser) applyMetadata(sk *skeleton.Skeleton, meta taskMetadata) {
	if meta.ParentTaskID != "" {
		sk.ParentTaskID = meta.ParentTaskID
	}
	if meta.Workspace != "" {
		sk.Workspace = filepath.Clean(meta.Workspace)
	}
	if len(meta.Modes) > 0 {
		sk.Modes = meta.Modes
	}
	if meta.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339, meta.CreatedAt); err == nil {
			if sk.CreatedAt.IsZero() || t.Before(sk.CreatedAt) {
				sk.CreatedAt = t.UTC()
			}
		}
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// contentHash computes a stable hash of the concatenated, normalized
// message payloads: insensitive to BOMs (already stripped before this
// point) and to whitespace-only differences (collapsed here).
func contentHash(messages []normalizedMessage) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.role))
		h.Write([]byte{0})
		h.Write([]byte(collapseForHash(m.text)))
		h.Write([]byte{0})
		for _, nt := range m.newTasks {
			h.Write([]byte(collapseForHash(nt)))
			h.Write([]byte{0})
		}
		h.Write([]byte{1})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func collapseForHash(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
