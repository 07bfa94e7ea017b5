package pipeline

import (
	"fmt"
	"strings"

	"github.com/sudoghut/trendstory/internal/store"
)

const storySystemPrompt = "You are a news writer. Write a clear, factual short story " +
	"about the given trending search topic for a general audience. Do not invent sources."

const imagePromptSystem = "You turn a news story into a concise comma-separated list of " +
	"visual keywords suitable for an image generation model. Reply with the keywords only."

// StoryPrompt builds the narrative request for a topic. Empty fields
// are omitted; a topic with no query, categories or related terms
// yields "" and is skipped by the caller.
func StoryPrompt(t store.Topic) string {
	var parts []string
	if q := strings.TrimSpace(t.Query); q != "" {
		parts = append(parts, fmt.Sprintf("Write a short news story about the trending search topic %q.", q))
	}
	if names := categoryNames(t.Categories); len(names) > 0 {
		parts = append(parts, "Related categories: "+strings.Join(names, ", ")+".")
	}
	if terms := nonEmpty(t.Breakdown); len(terms) > 0 {
		parts = append(parts, "Related searches: "+strings.Join(terms, ", ")+".")
	}
	return strings.Join(parts, " ")
}

// ImagePrompt builds the keyword-extraction request from a finished
// narrative and its topic query.
func ImagePrompt(narrative, query string) string {
	return fmt.Sprintf("Topic: %s\n\nStory:\n%s\n\nDescribe one illustration for this story as visual keywords.",
		query, narrative)
}

func categoryNames(cats []store.Category) []string {
	var names []string
	for _, c := range cats {
		if strings.TrimSpace(c.Name) != "" {
			names = append(names, c.Name)
		}
	}
	return names
}

func nonEmpty(ss []string) []string {
	var out []string
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
