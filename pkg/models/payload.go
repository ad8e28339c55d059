package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ChatPayload is the body of one conversation request. History is the
// transcript as the client saw it when the request was made, without the
// utterance itself.
type ChatPayload struct {
	Utterance *Message  `json:"utterance"`
	History   []Message `json:"history"`
}

// DecodeChatPayload parses a request body. An empty body or a literal JSON
// null yields a nil payload and no error so validation can report it.
func DecodeChatPayload(body []byte) (*ChatPayload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var p ChatPayload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("invalid chat payload: %w", err)
	}
	return &p, nil
}

// ValidateChatPayload returns a list of human readable problems with p, or
// nil when p can be streamed. It fills in the user role on an utterance that
// has none.
func ValidateChatPayload(p *ChatPayload) []string {
	if p == nil {
		return []string{"payload is null"}
	}
	var errs []string
	u := p.Utterance
	switch {
	case u == nil:
		errs = append(errs, "the utterance field is required")
	case len(u.Contents) == 0:
		errs = append(errs, "the utterance contents field is required")
	}
	if u != nil {
		if u.Role == "" {
			u.Role = RoleUser
		} else if !u.Role.Valid() {
			errs = append(errs, fmt.Sprintf("the utterance role %q is not valid", u.Role))
		}
	}
	for i, m := range p.History {
		if !m.Role.Valid() {
			errs = append(errs, fmt.Sprintf("history[%d]: role %q is not valid", i, m.Role))
		}
	}
	return errs
}

// Conversation flattens p into the ordered message list handed to a model:
// the optional system prompt, the history, then the utterance.
func (p *ChatPayload) Conversation(systemPrompt string) []Message {
	out := make([]Message, 0, len(p.History)+2)
	if systemPrompt != "" {
		out = append(out, NewTextMessage(RoleSystem, systemPrompt))
	}
	out = append(out, p.History...)
	if p.Utterance != nil {
		out = append(out, *p.Utterance)
	}
	return out
}
