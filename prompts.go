package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Prompts holds all configurable prompt texts.
type Prompts struct {
	Analysis string
}

type promptMeta struct {
	FileName string
	Field    func(p *Prompts) *string
}

var promptFields = []promptMeta{
	{"analysis.txt", func(p *Prompts) *string { return &p.Analysis }},
}

func defaultPrompts() Prompts {
	return Prompts{
		Analysis: defaultAnalysisPrompt,
	}
}

func exportPrompts(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	p := defaultPrompts()
	for _, m := range promptFields {
		path := filepath.Join(dir, m.FileName)
		if err := os.WriteFile(path, []byte(*m.Field(&p)), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func loadPrompts(dir string) (Prompts, error) {
	p := defaultPrompts()
	for _, m := range promptFields {
		path := filepath.Join(dir, m.FileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return p, fmt.Errorf("read %s: %w", path, err)
		}
		*m.Field(&p) = string(data)
	}
	return p, nil
}

const defaultAnalysisPrompt = `You are an email processing assistant. Analyze the email and respond with ONLY a JSON object in exactly this shape:

{
  "summary": "brief summary of the email, max 100 words",
  "has_event": true or false,
  "events": [
    {
      "title": "event title",
      "start": "YYYY-MM-DD or YYYY-MM-DDTHH:MM",
      "end": "YYYY-MM-DD or YYYY-MM-DDTHH:MM, omit if unknown",
      "location": "location if mentioned, omit otherwise"
    }
  ]
}

Rules:
- "has_event" is true only if the email mentions a concrete event, meeting, deadline or appointment that belongs on a calendar.
- If has_event is false, "events" must be an empty array.
- Use a bare date (YYYY-MM-DD) for "start" when no time of day is given.
- Never include any text outside the JSON object.`
