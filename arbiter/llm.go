package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

// llmIntentDraft is the JSON shape an LlmProvider's GenerateIntent result
// must match (spec.md §4.10: "responses are parsed as JSON for intents").
type llmIntentDraft struct {
	Goal        string                 `json:"goal"`
	Constraints map[string]interface{} `json:"constraints,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

// llmCapabilityCall is one step of an LLM-produced plan.
type llmCapabilityCall struct {
	Capability string                 `json:"capability"`
	Args       map[string]interface{} `json:"args,omitempty"`
}

// llmPlanDraft is the JSON shape an LlmProvider's GeneratePlan result must
// match.
//
// spec.md §4.10 describes GeneratePlan's result as "an RTFS plan string"
// that the Arbiter parses. Building a general RTFS reader is an explicit
// Non-goal (SPEC_FULL.md), so this Arbiter instead defines a small,
// fixed JSON intermediate representation — a named sequence of capability
// calls — and deterministically compiles it into an rtfs.Expression tree
// (buildPlanBody below). That compilation step is a fixed, one-shape
// transform, not a parser for arbitrary RTFS syntax; it preserves the
// spec's composition, repair-loop, and parse/schema-error semantics while
// staying inside the Non-goal.
type llmPlanDraft struct {
	Name  string              `json:"name,omitempty"`
	Calls []llmCapabilityCall `json:"calls"`
}

func (a *Arbiter) llmIntent(ctx context.Context, text string) (intentgraph.StorableIntent, error) {
	if a.Provider == nil {
		return intentgraph.StorableIntent{}, rtfserrors.New("arbiter.llmIntent", rtfserrors.KindUserError, "no LlmProvider configured")
	}
	raw, err := a.Provider.GenerateIntent(ctx, text)
	if err != nil {
		return intentgraph.StorableIntent{}, rtfserrors.Wrap("arbiter.llmIntent", rtfserrors.KindTransientProviderError, err)
	}
	draft, err := parseLlmIntent(raw)
	if err != nil {
		return intentgraph.StorableIntent{}, err
	}
	return intentgraph.StorableIntent{
		IntentID:    newIntentID(),
		Goal:        draft.Goal,
		Constraints: valuesFromJSONMap(draft.Constraints),
		Preferences: valuesFromJSONMap(draft.Preferences),
		Status:      intentgraph.StatusActive,
		Metadata:    map[string]interface{}{"arbiter_variant": "llm"},
	}, nil
}

func (a *Arbiter) llmPlan(ctx context.Context, intent intentgraph.StorableIntent) (plan.Plan, error) {
	if a.Provider == nil {
		return plan.Plan{}, rtfserrors.New("arbiter.llmPlan", rtfserrors.KindUserError, "no LlmProvider configured")
	}
	raw, err := a.Provider.GeneratePlan(ctx, intent)
	if err != nil {
		return plan.Plan{}, rtfserrors.Wrap("arbiter.llmPlan", rtfserrors.KindTransientProviderError, err)
	}
	draft, err := parseLlmPlan(raw)
	if err != nil {
		return plan.Plan{}, err
	}
	body, err := buildPlanBody(draft.Calls)
	if err != nil {
		return plan.Plan{}, err
	}
	name := draft.Name
	if name == "" {
		name = intent.Goal
	}
	return newPlan(intent, name, raw, &body), nil
}

// parseLlmIntent trims leading whitespace before parsing — spec.md §4.10
// calls this out explicitly as a real observed issue with model output —
// then unmarshals the JSON intent.
func parseLlmIntent(raw string) (llmIntentDraft, error) {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	var draft llmIntentDraft
	if err := json.Unmarshal([]byte(trimmed), &draft); err != nil {
		return llmIntentDraft{}, rtfserrors.Wrap("arbiter.parseLlmIntent", rtfserrors.KindParseError, err)
	}
	if draft.Goal == "" {
		return llmIntentDraft{}, rtfserrors.New("arbiter.parseLlmIntent", rtfserrors.KindSchemaMismatch, `llm intent response missing "goal"`)
	}
	return draft, nil
}

func parseLlmPlan(raw string) (llmPlanDraft, error) {
	trimmed := strings.TrimLeft(raw, " \t\r\n")
	var draft llmPlanDraft
	if err := json.Unmarshal([]byte(trimmed), &draft); err != nil {
		return llmPlanDraft{}, rtfserrors.Wrap("arbiter.parseLlmPlan", rtfserrors.KindParseError, err)
	}
	if len(draft.Calls) == 0 {
		return llmPlanDraft{}, rtfserrors.New("arbiter.parseLlmPlan", rtfserrors.KindSchemaMismatch, "llm plan response has no capability calls")
	}
	for _, c := range draft.Calls {
		if c.Capability == "" {
			return llmPlanDraft{}, rtfserrors.New("arbiter.parseLlmPlan", rtfserrors.KindSchemaMismatch, "llm plan response has a call with no capability id")
		}
	}
	return draft, nil
}

func buildPlanBody(calls []llmCapabilityCall) (rtfs.Expression, error) {
	exprs := make([]rtfs.Expression, len(calls))
	for i, c := range calls {
		argsVal, err := valueFromJSON(c.Args)
		if err != nil {
			return rtfs.Expression{}, rtfserrors.Wrap("arbiter.buildPlanBody", rtfserrors.KindSchemaMismatch, err)
		}
		exprs[i] = rtfs.Call(rtfs.Sym("call"), rtfs.Lit(rtfs.Keyword(c.Capability)), rtfs.Lit(argsVal))
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return rtfs.Expression{Kind: rtfs.EKDo, Exprs: exprs}, nil
}

// valueFromJSON converts a decoded encoding/json value (nil, bool,
// float64, string, []interface{}, map[string]interface{}) into an
// rtfs.Value, used to turn an LLM's args map into plan-literal arguments.
func valueFromJSON(v interface{}) (rtfs.Value, error) {
	switch t := v.(type) {
	case nil:
		return rtfs.Value{Kind: rtfs.KNil}, nil
	case bool:
		return rtfs.Bool(t), nil
	case float64:
		if t == math.Trunc(t) {
			return rtfs.Int(int64(t)), nil
		}
		return rtfs.Float(t), nil
	case string:
		return rtfs.Str(t), nil
	case []interface{}:
		items := make([]rtfs.Value, len(t))
		for i, item := range t {
			val, err := valueFromJSON(item)
			if err != nil {
				return rtfs.Value{}, err
			}
			items[i] = val
		}
		return rtfs.Vector(items...), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		mapKeys := make([]rtfs.MapKey, len(keys))
		mapVals := make([]rtfs.Value, len(keys))
		for i, k := range keys {
			mapKeys[i] = rtfs.MapKey{Kind: rtfs.KKeyword, Str: k}
			val, err := valueFromJSON(t[k])
			if err != nil {
				return rtfs.Value{}, err
			}
			mapVals[i] = val
		}
		return rtfs.NewMap(mapKeys, mapVals), nil
	default:
		return rtfs.Value{}, fmt.Errorf("unsupported json value type %T", v)
	}
}

func valuesFromJSONMap(m map[string]interface{}) map[string]rtfs.Value {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]rtfs.Value, len(m))
	for k, v := range m {
		val, err := valueFromJSON(v)
		if err != nil {
			continue
		}
		out[k] = val
	}
	return out
}
