package room

import "strings"

type Distractors struct {
	Easy   string `json:"easy,omitempty"`
	Medium string `json:"medium,omitempty"`
	Hard   string `json:"hard,omitempty"`
}

// Item is one question. Packs come in two shapes: the question/correct_answer
// form and the prompt/options/correct ("A"|"B") form; both are kept.
type Item struct {
	Question      string      `json:"question,omitempty"`
	CorrectAnswer string      `json:"correct_answer,omitempty"`
	Distractors   Distractors `json:"distractors"`

	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`
	Correct string   `json:"correct,omitempty"`

	Placeholder bool `json:"placeholder,omitempty"`
}

// PlaceholderItem pads rounds that arrive with fewer than three items. It is
// never credited as correct.
var PlaceholderItem = Item{Question: "(missing question)", Placeholder: true}

func (it Item) Text() string {
	if it.Question != "" {
		return it.Question
	}
	return it.Prompt
}

// Answer resolves the correct answer text, or "" if the item cannot be scored.
func (it Item) Answer() string {
	if it.Placeholder {
		return ""
	}
	if s := strings.TrimSpace(it.CorrectAnswer); s != "" {
		return s
	}
	switch strings.ToUpper(strings.TrimSpace(it.Correct)) {
	case "A":
		if len(it.Options) > 0 {
			return strings.TrimSpace(it.Options[0])
		}
	case "B":
		if len(it.Options) > 1 {
			return strings.TrimSpace(it.Options[1])
		}
	}
	return ""
}

// RoundContent is the read-only question set for one round.
type RoundContent struct {
	Round      int    `json:"round"`
	HostItems  []Item `json:"hostItems"`
	GuestItems []Item `json:"guestItems"`
}

// ItemsFor returns exactly QuestionsPerRound items for role, padded with
// PlaceholderItem.
func (c *RoundContent) ItemsFor(role Role) []Item {
	if c == nil {
		return PadItems(nil)
	}
	if role == RoleHost {
		return PadItems(c.HostItems)
	}
	return PadItems(c.GuestItems)
}

func PadItems(items []Item) []Item {
	out := make([]Item, QuestionsPerRound)
	for i := range out {
		if i < len(items) {
			out[i] = items[i]
		} else {
			out[i] = PlaceholderItem
		}
	}
	return out
}
