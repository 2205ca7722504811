// Package extract turns a finished call transcript into a structured order.
//
// After the caller hangs up, the transcript is sent to a chat model in JSON
// mode together with the menu. The model decides whether an order was
// confirmed and, if so, lists the items; quantities are priced against the
// catalog here rather than trusting arithmetic from the model.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/trattoria-labs/centralino/internal/menu"
)

const defaultModel = "gpt-4o-mini"

// FoodLine is one ordered item as reported by the model.
type FoodLine struct {
	Name     string      `json:"name"`
	Quantity quantityInt `json:"quantity"`
}

// quantityInt tolerates both number and string JSON encodings; chat models
// occasionally quote numerics despite instructions.
type quantityInt int

func (q *quantityInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*q = 0
		return nil
	}
	v, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("extract: parse quantity %q: %w", data, err)
	}
	*q = quantityInt(v)
	return nil
}

// Result is the structured order pulled from a transcript.
type Result struct {
	Name     string     `json:"name"`
	Phone    string     `json:"phone"`
	Foods    []FoodLine `json:"foods"`
	Location string     `json:"location"`
	Time     string     `json:"time"`

	// IsOrdered reports whether the caller actually confirmed an order.
	// When false the other fields are not meaningful.
	IsOrdered bool `json:"isOrdered"`

	// IsUpdate reports that the caller was changing an order placed earlier
	// in the same day rather than placing a new one.
	IsUpdate bool `json:"isUpdate"`
}

// Extractor runs transcript extraction against a chat model.
type Extractor struct {
	client  oai.Client
	model   string
	catalog *menu.Catalog

	// defaultLocation is assumed when the conversation never names one.
	defaultLocation string
	locations       []string
	loc             *time.Location

	now func() time.Time
}

// extractorConfig holds optional configuration for [New].
type extractorConfig struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for [New].
type Option func(*extractorConfig)

// WithModel selects the chat model. Defaults to gpt-4o-mini.
func WithModel(model string) Option {
	return func(c *extractorConfig) { c.model = model }
}

// WithBaseURL overrides the default API base URL. Used in tests.
func WithBaseURL(url string) Option {
	return func(c *extractorConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *extractorConfig) { c.timeout = d }
}

// New constructs an Extractor. catalog supplies the menu rendered into the
// prompt and the prices applied to the result; locations and defaultLocation
// constrain the model's location field; loc resolves "now" for relative
// pickup times.
func New(apiKey string, catalog *menu.Catalog, locations []string, defaultLocation string, loc *time.Location, opts ...Option) (*Extractor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("extract: apiKey must not be empty")
	}
	if catalog == nil {
		return nil, fmt.Errorf("extract: catalog must not be nil")
	}
	cfg := &extractorConfig{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if loc == nil {
		loc = time.UTC
	}

	return &Extractor{
		client:          oai.NewClient(reqOpts...),
		model:           cfg.model,
		catalog:         catalog,
		defaultLocation: defaultLocation,
		locations:       locations,
		loc:             loc,
		now:             time.Now,
	}, nil
}

// Extract analyses a transcript and returns the structured order. The caller
// number is appended to the prompt so the model fills in the phone field.
func (e *Extractor) Extract(ctx context.Context, transcript, callerNumber string) (*Result, error) {
	sys := e.systemPrompt() + "Current Time: " + e.now().In(e.loc).Format("15:04:05")
	user := transcript + "\nPhone Number: " + callerNumber

	completion, err := e.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(sys),
			oai.UserMessage(user),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("extract: chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("extract: no completion choices")
	}

	var res Result
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &res); err != nil {
		return nil, fmt.Errorf("extract: parse result: %w", err)
	}

	if res.Phone == "" {
		res.Phone = callerNumber
	}
	if res.Location == "" {
		res.Location = e.defaultLocation
	}
	return &res, nil
}

// Price converts the result's food lines to priced catalog lines plus the
// order total in cents. Lines the catalog cannot match are reported via the
// joined error while the matched lines are still returned.
func (e *Extractor) Price(res *Result) ([]menu.PricedLine, int, error) {
	lines := make([]menu.Line, 0, len(res.Foods))
	for _, f := range res.Foods {
		lines = append(lines, menu.Line{Name: f.Name, Quantity: int(f.Quantity)})
	}
	return e.catalog.PriceLines(lines)
}

func (e *Extractor) systemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are a helpful assistant designed to generate a JSON object from the conversation between a caller and a restaurant phone assistant.
Carefully analyze the conversation to see if an order has been confirmed; if so set the isOrdered field to true, otherwise false.
If the order has been confirmed, generate the caller's name, ordered foods, location, and pickup time from the conversation, based on the last confirmation the caller agreed to.
If the caller was changing an order they placed earlier today rather than placing a new one, set the isUpdate field to true, otherwise false.

Respond with a JSON object using exactly these fields:
name (string), phone (string), foods (array of {name, quantity}), location (string), time (string), isOrdered (boolean), isUpdate (boolean)

Behavior rules:
For the time field:
 - If the caller specified a duration (e.g., "in 30 minutes"), calculate the exact time: pickup time = current time + duration.
 - Format the output as HH:MM AM/PM.
For the foods field, each entry names one menu item with an integer quantity. Food names must be items from the menu below.
`)
	if len(e.locations) > 0 {
		b.WriteString("For the location field, determine which location the caller chose or discussed.\n")
		fmt.Fprintf(&b, "If no location is clearly specified, set location to %q.\n", e.defaultLocation)
		b.WriteString("Valid location values:\n")
		for _, l := range e.locations {
			fmt.Fprintf(&b, " - %q\n", l)
		}
	}
	b.WriteString("\n")
	b.WriteString(e.catalog.InstructionText())
	b.WriteString("\n")
	return b.String()
}
