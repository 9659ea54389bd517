package entity

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/channel"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

const (
	positiveSentiment = 0.3
	speakerEntity     = "entity"
)

// Reply is the entity's answer to a chat message. Metadata carries
// "error" when the answer is a degraded fallback.
type Reply struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Sentiment float64        `json:"sentiment"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type chatReply struct {
	Reply     string   `json:"reply"`
	Sentiment *float64 `json:"sentiment"`
}

// Chat answers msg. Generation failures never surface as errors: the
// entity apologizes and records the failure in the reply metadata.
func (e *Entity) Chat(ctx context.Context, msg channel.Message) (*Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	convID := msg.ConversationID()
	sender := msg.SenderID
	if sender == "" {
		sender = "someone"
	}

	history, err := e.working.Conversation(ctx, convID)
	if err != nil {
		return nil, err
	}
	assembled, err := e.layers.BuildThinkContext(ctx, msg.Content, e.locale)
	if err != nil {
		return nil, err
	}
	state, err := e.energy.State(ctx)
	if err != nil {
		return nil, err
	}

	data := prompts.ChatData{
		Name:        e.Name(),
		Context:     assembled,
		EnergyState: e.catalog.Text(prompts.EnergyState, e.locale, string(state)),
		Sender:      sender,
		Message:     msg.Content,
	}
	for _, t := range history {
		speaker := t.Speaker
		if speaker == speakerEntity {
			speaker = data.Name
		}
		data.History = append(data.History, prompts.Turn{Speaker: speaker, Text: t.Text})
	}
	prompt, err := e.catalog.Render(prompts.Chat, e.locale, data)
	if err != nil {
		return nil, err
	}

	reply := &Reply{ID: uuid.NewString()}
	out, genErr := e.chatter.Generate(ctx, prompt)
	if genErr != nil {
		slog.Warn("chat generation failed", "conversation", convID, "error", genErr)
		reply.Content = e.catalog.Text(prompts.ChatApology, e.locale, nil)
		reply.Metadata = map[string]any{"error": genErr.Error()}
		e.publish(events.Event{Type: events.TypeError, Message: "chat: " + genErr.Error()})
	} else {
		parsed := parseChat(out)
		reply.Content = parsed.Reply
		reply.Sentiment = *parsed.Sentiment
	}

	err = e.working.AppendTurns(ctx, convID,
		working.Turn{ID: msg.ID, Speaker: sender, Text: msg.Content, At: msg.At},
		working.Turn{ID: reply.ID, Speaker: speakerEntity, Text: reply.Content},
	)
	if err != nil {
		return nil, err
	}
	if _, err := e.energy.Conversation(ctx); err != nil {
		return nil, err
	}
	if genErr != nil {
		return reply, nil
	}

	if reply.Sentiment > positiveSentiment {
		if _, err := e.energy.PositiveInteraction(ctx); err != nil {
			return nil, err
		}
	}
	_, err = e.layers.Remember(ctx, brain.CreateParams{
		Type: brain.TypeConversation,
		Content: e.catalog.Text(prompts.ConversationMemory, e.locale, map[string]string{
			"Sender":  sender,
			"Message": msg.Content,
			"Reply":   reply.Content,
		}),
		Importance:       brain.Float(0.4 + 0.2*abs(reply.Sentiment)),
		EmotionalValence: reply.Sentiment,
		RelatedEntity:    sender,
		Context:          map[string]any{"conversation": convID, "source": msg.Source},
	}, false)
	if err != nil {
		slog.Warn("failed to store conversation memory", "conversation", convID, "error", err)
	}

	e.publish(events.Event{Type: events.TypeChat, Role: "user", Message: msg.Content, Data: map[string]any{"sender": sender}})
	e.publish(events.Event{Type: events.TypeChat, Role: speakerEntity, Message: reply.Content, Data: map[string]any{"sentiment": reply.Sentiment}})
	return reply, nil
}

// HandleMessage answers msg on ch. It is a channel.MessageHandler once
// bound to a channel.
func (e *Entity) HandleMessage(ch channel.Channel) channel.MessageHandler {
	return func(ctx context.Context, msg channel.Message) error {
		reply, err := e.Chat(ctx, msg)
		if err != nil {
			return err
		}
		return ch.Send(ctx, msg.Reply(reply.Content))
	}
}

func parseChat(out string) chatReply {
	var r chatReply
	if raw, ok := jsonObject(out); !ok || json.Unmarshal([]byte(raw), &r) != nil || strings.TrimSpace(r.Reply) == "" {
		r = chatReply{Reply: out}
	}
	r.Reply = strings.TrimSpace(r.Reply)
	sentiment := 0.0
	if r.Sentiment != nil {
		sentiment = min(max(*r.Sentiment, -1), 1)
	}
	r.Sentiment = &sentiment
	return r
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
