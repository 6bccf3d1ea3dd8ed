package celrules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
)

// maxExpressionLength bounds how long an operator-authored expression may be.
const maxExpressionLength = 1024

// maxCostBudget limits CEL runtime cost, guarding against a pathological
// expression turning rule evaluation into a denial-of-service vector.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket nesting in an expression.
const maxNestingDepth = 50

// evalTimeout bounds a single rule evaluation.
const evalTimeout = 2 * time.Second

// interruptCheckFreq is how often, in comprehension iterations, context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Rule is a compiled CEL expression that pre-decides a held message's
// disposition without operator interaction. It implements proxy.Rule.
type Rule struct {
	Name       string
	Expression string
	Action     proxy.Action

	program cel.Program
}

// evaluationInput is the subset of a ProxyMessage a rule expression can see.
type evaluationInput struct {
	Method         string
	Direction      string
	Transport      string
	Kind           string
	IsRequest      bool
	IsResponse     bool
	IsNotification bool
	ToolName       string
	Params         map[string]any
}

// NewRule validates and compiles expression, returning a Rule ready for
// Engine consumption. action must be one of proxy.ActionForward or
// proxy.ActionDrop — a rule that matches never holds a message, so
// ActionModify (which requires operator-supplied replacement bytes) is
// rejected at construction.
func NewRule(name, expression string, action proxy.Action) (*Rule, error) {
	if name == "" {
		return nil, errors.New("rule name is required")
	}
	if action != proxy.ActionForward && action != proxy.ActionDrop {
		return nil, fmt.Errorf("rule action must be %q or %q, got %q", proxy.ActionForward, proxy.ActionDrop, action)
	}
	if err := validateExpression(expression); err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}

	env, err := newRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("build rule environment: %w", err)
	}
	prg, err := compile(env, expression)
	if err != nil {
		return nil, fmt.Errorf("rule %q: %w", name, err)
	}

	return &Rule{
		Name:       name,
		Expression: expression,
		Action:     action,
		program:    prg,
	}, nil
}

func validateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

func compile(env *cel.Env, expression string) (cel.Program, error) {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	return prg, nil
}

// Evaluate implements proxy.Rule. A message that fails to match, or whose
// expression errors at runtime, defers to the engine's normal hold
// behavior rather than risk a silent forward or drop.
func (r *Rule) Evaluate(msg *proxy.ProxyMessage) (proxy.Action, bool) {
	in := toEvaluationInput(msg)

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := r.program.ContextEval(ctx, activation(in))
	if err != nil {
		return "", false
	}
	matched, ok := result.Value().(bool)
	if !ok || !matched {
		return "", false
	}
	return r.Action, true
}

var _ proxy.Rule = (*Rule)(nil)

// toEvaluationInput extracts the CEL-visible fields from a ProxyMessage.
// Decode failures leave Params nil/ToolName empty rather than propagating
// an error — an unparsed envelope simply matches no param-based rules.
func toEvaluationInput(msg *proxy.ProxyMessage) evaluationInput {
	kind := msg.Kind()
	in := evaluationInput{
		Direction:      msg.Direction.String(),
		Transport:      string(msg.Transport),
		Kind:           kind.String(),
		IsRequest:      kind == proxy.KindRequest,
		IsResponse:     kind == proxy.KindResponse || kind == proxy.KindError,
		IsNotification: kind == proxy.KindNotification,
	}
	if msg.Method != nil {
		in.Method = *msg.Method
	}

	var envelope struct {
		Params json.RawMessage `json:"params"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(msg.Raw, &envelope); err != nil {
		return in
	}

	body := envelope.Params
	if len(body) == 0 {
		body = envelope.Result
	}
	if len(body) > 0 {
		var params map[string]any
		if err := json.Unmarshal(body, &params); err == nil {
			in.Params = params
			if name, ok := params["name"].(string); ok && in.Method == "tools/call" {
				in.ToolName = name
			}
		}
	}
	return in
}
