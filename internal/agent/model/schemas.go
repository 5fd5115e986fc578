package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Schema is a structured output the model is forced to emit through a bound tool call.
type Schema interface {
	Validate() error
}

var ErrEmptySchema = errors.New("structured output carries no value")

// ClassifyQuestion is the relevance classifier's verdict.
type ClassifyQuestion struct {
	BinaryScore string `json:"binary_score"`
}

func (c *ClassifyQuestion) Validate() error {
	return validateBinary(&c.BinaryScore)
}

// Yes reports whether the question is relevant to the business domain.
func (c *ClassifyQuestion) Yes() bool { return c.BinaryScore == "yes" }

// RouteQuestion is the request router's verdict.
type RouteQuestion struct {
	BinaryScore string `json:"binary_score"`
}

func (r *RouteQuestion) Validate() error {
	return validateBinary(&r.BinaryScore)
}

// Yes reports whether the question asks for an item to be delivered.
func (r *RouteQuestion) Yes() bool { return r.BinaryScore == "yes" }

func validateBinary(score *string) error {
	v := strings.ToLower(strings.TrimSpace(*score))
	if v != "yes" && v != "no" {
		return fmt.Errorf("binary_score must be yes or no, got %q", *score)
	}
	*score = v
	return nil
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps []string `json:"steps"`
}

func (p *Plan) Validate() error {
	steps := p.Steps[:0]
	for _, s := range p.Steps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	p.Steps = steps
	if len(p.Steps) == 0 {
		return ErrEmptySchema
	}
	return nil
}

// Response is a final answer to the user.
type Response struct {
	Response string `json:"response"`
}

// Act is the replanner's decision: answer now, or keep going with a revised plan.
type Act struct {
	Response *Response
	Plan     *Plan
}

// UnmarshalJSON accepts the flat form {"response": ...} / {"steps": [...]} as well as
// the same object nested under an "action" key.
func (a *Act) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if inner, ok := raw["action"]; ok {
		return a.UnmarshalJSON(inner)
	}

	*a = Act{}
	if v, ok := raw["response"]; ok {
		var text string
		if err := json.Unmarshal(v, &text); err != nil {
			return fmt.Errorf("response: %w", err)
		}
		if strings.TrimSpace(text) != "" {
			a.Response = &Response{Response: text}
			return nil
		}
	}
	if v, ok := raw["steps"]; ok {
		var steps []string
		if err := json.Unmarshal(v, &steps); err != nil {
			return fmt.Errorf("steps: %w", err)
		}
		a.Plan = &Plan{Steps: steps}
	}
	return nil
}

func (a Act) MarshalJSON() ([]byte, error) {
	switch {
	case a.Response != nil:
		return json.Marshal(a.Response)
	case a.Plan != nil:
		return json.Marshal(a.Plan)
	default:
		return []byte("{}"), nil
	}
}

func (a *Act) Validate() error {
	if a.Response != nil {
		return nil
	}
	if a.Plan != nil {
		return a.Plan.Validate()
	}
	return ErrEmptySchema
}

// ================ Tool schemas ================

func binaryParams(desc string) *schema.ParamsOneOf {
	return schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
		"binary_score": {
			Type:     schema.String,
			Desc:     desc,
			Enum:     []string{"yes", "no"},
			Required: true,
		},
	})
}

func ClassifyQuestionTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "ClassifyQuestion",
		Desc:        "Binary score to assess if the question is about the business, its services or surrounding areas.",
		ParamsOneOf: binaryParams("Question is related to the business, 'yes' or 'no'"),
	}
}

func RouteQuestionTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        "RouteQuestion",
		Desc:        "Binary classifier to check if an input question is a request for an item or not.",
		ParamsOneOf: binaryParams("The question is a request for an item, 'yes' or 'no'"),
	}
}

func PlanTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "Plan",
		Desc: "Plan to follow in future.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"steps": {
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Desc:     "different steps to follow, should be in sorted order",
				Required: true,
			},
		}),
	}
}

func ActTool() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "Act",
		Desc: "Action to perform. If you want to respond to user, fill response. Otherwise, fill steps with the remaining plan.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"response": {
				Type: schema.String,
				Desc: "Final response to the user",
			},
			"steps": {
				Type:     schema.Array,
				ElemInfo: &schema.ParameterInfo{Type: schema.String},
				Desc:     "remaining steps to follow, in sorted order",
			},
		}),
	}
}
