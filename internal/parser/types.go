package parser

import "encoding/json"

// apiMessage mirrors one entry of the "API message history" file: the raw
// request/response turns exchanged with the model. content may be a plain
// string or a list of content blocks (text / tool_use / tool_result),
// mirroring the provider SDK message shapes.
type apiMessage struct {
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"ts"`
	CreatedAt string          `json:"createdAt"`
}

// apiDocument accepts both "array of messages" and "object with a messages
// field" shapes, per spec.
type apiDocument struct {
	Messages []apiMessage `json:"messages"`
}

func decodeAPIMessages(raw []byte) ([]apiMessage, error) {
	var asArray []apiMessage
	if err := decodeJSONDocument(raw, &asArray); err == nil {
		return asArray, nil
	}
	var asObject apiDocument
	if err := decodeJSONDocument(raw, &asObject); err != nil {
		return nil, err
	}
	return asObject.Messages, nil
}

// contentBlock is one element of an apiMessage.Content array.
type contentBlock struct {
	Type string          `json:"type"`
	Text string          `json:"text"`
	Name string          `json:"name"`
	ID   string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

// newTaskInput is the shape of a new_task-style tool invocation's input.
type newTaskInput struct {
	Message      string `json:"message"`
	Instructions string `json:"instructions"`
	Mode         string `json:"mode"`
}

func (in newTaskInput) instructionText() string {
	if in.Message != "" {
		return in.Message
	}
	return in.Instructions
}

// decodeContent normalizes content into a slice of contentBlock: a plain
// string becomes a single text block.
func decodeContent(raw json.RawMessage) []contentBlock {
	if len(raw) == 0 {
		return nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return []contentBlock{{Type: "text", Text: asString}}
	}
	var asBlocks []contentBlock
	if err := json.Unmarshal(raw, &asBlocks); err == nil {
		return asBlocks
	}
	return nil
}

// uiEvent mirrors one entry of the "UI message history" file: synthesized
// presentation events, including a "say" event used for user-visible text
// when the API history alone doesn't carry it.
type uiEvent struct {
	Type      string `json:"type"`
	Say       string `json:"say"`
	Ask       string `json:"ask"`
	Text      string `json:"text"`
	Timestamp int64  `json:"ts"`
}

func decodeUIEvents(raw []byte) ([]uiEvent, error) {
	var asArray []uiEvent
	if err := decodeJSONDocument(raw, &asArray); err == nil {
		return asArray, nil
	}
	var asObject struct {
		Events []uiEvent `json:"events"`
	}
	if err := decodeJSONDocument(raw, &asObject); err != nil {
		return nil, err
	}
	return asObject.Events, nil
}

// taskMetadata mirrors the task-metadata file: host-declared facts about
// the task that take precedence over inference when present and valid.
type taskMetadata struct {
	TaskID       string   `json:"taskId"`
	ParentTaskID string   `json:"parentTaskId"`
	Workspace    string   `json:"workspace"`
	Modes        []string `json:"modes"`
	CreatedAt    string   `json:"createdAt"`
}

func decodeTaskMetadata(raw []byte) (taskMetadata, error) {
	var meta taskMetadata
	err := decodeJSONDocument(raw, &meta)
	return meta, err
}
