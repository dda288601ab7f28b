package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TeamsNotifier sends notifications to Microsoft Teams via webhook
type TeamsNotifier struct {
	webhookURL string
	client     *http.Client
}

// TeamsOption is a functional option for TeamsNotifier
type TeamsOption func(*TeamsNotifier)

// WithTeamsClient replaces the HTTP client
func WithTeamsClient(c *http.Client) TeamsOption {
	return func(t *TeamsNotifier) {
		t.client = c
	}
}

func NewTeamsNotifier(webhookURL string, opts ...TeamsOption) *TeamsNotifier {
	t := &TeamsNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TeamsNotifier) Name() string {
	return "teams"
}

// teamsMessage is a message carrying one Adaptive Card
type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	ContentURL  *string          `json:"contentUrl"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

type teamsBlock struct {
	Type      string        `json:"type"`
	Size      string        `json:"size,omitempty"`
	Weight    string        `json:"weight,omitempty"`
	Text      string        `json:"text,omitempty"`
	Color     string        `json:"color,omitempty"`
	Wrap      bool          `json:"wrap,omitempty"`
	Columns   []teamsColumn `json:"columns,omitempty"`
	Items     []teamsBlock  `json:"items,omitempty"`
	Spacing   string        `json:"spacing,omitempty"`
	Separator bool          `json:"separator,omitempty"`
}

type teamsColumn struct {
	Type  string       `json:"type"`
	Width string       `json:"width"`
	Items []teamsBlock `json:"items"`
}

func column(title, value, color string) teamsColumn {
	return teamsColumn{
		Type:  "Column",
		Width: "stretch",
		Items: []teamsBlock{
			{Type: "TextBlock", Text: "**" + title + "**", Wrap: true},
			{Type: "TextBlock", Text: value, Color: color, Wrap: true},
		},
	}
}

func (t *TeamsNotifier) Notify(ctx context.Context, summary *Summary) error {
	color := "good"
	if !summary.Success() {
		color = "attention"
	}

	columns := []teamsColumn{
		column("Total Tests", fmt.Sprintf("%d", summary.Total), ""),
		column("Passed", fmt.Sprintf("%d", summary.Passed), "good"),
		column("Failed", fmt.Sprintf("%d", summary.Failed), "attention"),
		column("Duration", summary.Duration.Round(time.Millisecond).String(), ""),
	}
	if summary.SuiteErrors > 0 {
		columns = append(columns, column("Failed Suites", fmt.Sprintf("%d", summary.SuiteErrors), "attention"))
	}

	body := []teamsBlock{
		{Type: "TextBlock", Size: "Large", Weight: "Bolder", Text: headline(summary), Color: color},
		{Type: "ColumnSet", Separator: true, Spacing: "Medium", Columns: columns},
	}
	if summary.Project != "" {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "**Project:** " + summary.Project, Wrap: true})
	}

	if len(summary.Failures) > 0 {
		body = append(body, teamsBlock{Type: "TextBlock", Text: "**Failed:**", Separator: true, Spacing: "Medium"})
		for _, f := range summary.Failures {
			body = append(body, teamsBlock{Type: "TextBlock", Text: fmt.Sprintf("- `%s` (%s)", f.Name, f.File), Wrap: true})
			for _, e := range f.Errors {
				body = append(body, teamsBlock{Type: "TextBlock", Text: "  - " + e, Wrap: true})
			}
		}
	}

	body = append(body, teamsBlock{
		Type:      "TextBlock",
		Text:      fmt.Sprintf("_hitrun - %s_", time.Now().Format(time.RFC3339)),
		Separator: true,
		Spacing:   "Medium",
	})

	msg := teamsMessage{
		Type: "message",
		Attachments: []teamsCard{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.2",
				Body:    body,
			},
		}},
	}
	return post(ctx, t.client, t.webhookURL, msg, http.StatusOK, http.StatusAccepted)
}
