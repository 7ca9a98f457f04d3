package relay

import (
	"encoding/json"
	"strings"

	"github.com/tullus-labs/SpaceTraveler/pkg/errors"

	"github.com/tidwall/gjson"
)

// Commands exchanged with the observer are text frames of the form
// "<verb> <json body>", e.g. `observe {"main_app":"SpaceTraveler"}`.

const (
	VerbObserve = "observe"
	VerbRunApp  = "run_app"
)

type Command struct {
	Verb string
	// Body is raw JSON, possibly empty.
	Body string
}

// NewCommand encodes body as JSON behind verb.
func NewCommand(verb string, body interface{}) (Command, error) {
	if verb == "" || strings.ContainsAny(verb, " \t\r\n") {
		return Command{}, errors.NewValidationError("invalid command verb", nil).WithContext("verb", verb)
	}
	if body == nil {
		return Command{Verb: verb}, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Command{}, errors.NewValidationError("failed to encode command body", err).WithContext("verb", verb)
	}
	return Command{Verb: verb, Body: string(data)}, nil
}

// ParseCommand splits text into verb and JSON body. The body must be valid
// JSON when present.
func ParseCommand(text string) (Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Command{}, errors.NewValidationError("empty command", nil)
	}

	verb, body := text, ""
	if i := strings.IndexAny(text, " \t\r\n"); i >= 0 {
		verb, body = text[:i], strings.TrimSpace(text[i+1:])
	}
	if body != "" && !gjson.Valid(body) {
		return Command{}, errors.NewValidationError("command body is not valid JSON", nil).WithContext("verb", verb)
	}
	return Command{Verb: verb, Body: body}, nil
}

func (c Command) String() string {
	if c.Body == "" {
		return c.Verb
	}
	return c.Verb + " " + c.Body
}

// Get reads a field of the body using gjson path syntax.
func (c Command) Get(path string) gjson.Result {
	return gjson.Get(c.Body, path)
}

// ObserveRequest asks the observer to watch an application and its helpers.
type ObserveRequest struct {
	MainApp string   `json:"main_app"`
	SubApps []string `json:"sub_apps,omitempty"`
	Safe    string   `json:"safe,omitempty"`
}

// RunAppRequest asks the observer to launch an application.
type RunAppRequest struct {
	App    string   `json:"app"`
	Args   []string `json:"args,omitempty"`
	Window bool     `json:"window"`
}

func ObserveCommand(request ObserveRequest) (Command, error) {
	if request.MainApp == "" {
		return Command{}, errors.NewValidationError("observe requires main_app", nil)
	}
	return NewCommand(VerbObserve, request)
}

func RunAppCommand(request RunAppRequest) (Command, error) {
	if request.App == "" {
		return Command{}, errors.NewValidationError("run_app requires app", nil)
	}
	return NewCommand(VerbRunApp, request)
}
