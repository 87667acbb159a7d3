package arbiter

import (
	"strings"

	"github.com/ccos-run/ccos/intentgraph"
	"github.com/ccos-run/ccos/pkg/rtfserrors"
	"github.com/ccos-run/ccos/plan"
	"github.com/ccos-run/ccos/rtfs"
)

// templateRule maps a keyword trigger to a canned capability call, the
// deterministic path spec.md §4.10 names as both "the default low-
// dependency path and a reference oracle in tests".
type templateRule struct {
	keyword      string
	capabilityID string
	goal         string
	argKey       string
}

// Longer, more specific keywords are listed before shorter ones they
// could otherwise shadow.
var templateRules = []templateRule{
	{keyword: "analyze sentiment", capabilityID: "nlp.analyze_sentiment", goal: "analyze the sentiment of the given text", argKey: "text"},
	{keyword: "echo", capabilityID: "demo.echo", goal: "echo the given text back", argKey: "text"},
}

// connectorWords are stripped from the start of the text that follows a
// matched keyword, so "echo hello" and "echo: hello" and "analyze
// sentiment of this review" all extract to the same bare argument.
var connectorWords = []string{"of", "for", "on", ":", "-"}

func matchTemplateRule(text string) (*templateRule, string, bool) {
	lower := strings.ToLower(text)
	for i := range templateRules {
		r := &templateRules[i]
		idx := strings.Index(lower, r.keyword)
		if idx < 0 {
			continue
		}
		rest := text[idx+len(r.keyword):]
		return r, extractArgument(rest), true
	}
	return nil, "", false
}

func extractArgument(rest string) string {
	rest = strings.TrimSpace(rest)
	lower := strings.ToLower(rest)
	for _, w := range connectorWords {
		if !strings.HasPrefix(lower, w) {
			continue
		}
		after := rest[len(w):]
		if after == "" || after[0] == ' ' {
			rest = strings.TrimSpace(after)
			break
		}
	}
	return rest
}

func (a *Arbiter) templateIntent(text string) (intentgraph.StorableIntent, error) {
	rule, arg, ok := matchTemplateRule(text)
	if !ok {
		return intentgraph.StorableIntent{}, rtfserrors.Newf("arbiter.templateIntent", rtfserrors.KindUserError, "no deterministic template matched %q", text)
	}
	return intentgraph.StorableIntent{
		IntentID: newIntentID(),
		Goal:     rule.goal,
		Status:   intentgraph.StatusActive,
		Metadata: map[string]interface{}{
			"arbiter_variant":     "template",
			"template_capability": rule.capabilityID,
			"template_arg_key":    rule.argKey,
			"template_arg_value":  arg,
		},
	}, nil
}

func (a *Arbiter) templatePlan(intent intentgraph.StorableIntent) (plan.Plan, error) {
	capID, ok := intent.Metadata["template_capability"].(string)
	if !ok {
		return plan.Plan{}, rtfserrors.Newf("arbiter.templatePlan", rtfserrors.KindUserError, "intent %q has no template metadata", intent.IntentID)
	}
	argKey, _ := intent.Metadata["template_arg_key"].(string)
	argValue, _ := intent.Metadata["template_arg_value"].(string)

	argsVal := rtfs.NewMap(
		[]rtfs.MapKey{{Kind: rtfs.KKeyword, Str: argKey}},
		[]rtfs.Value{rtfs.Str(argValue)},
	)
	body := rtfs.Call(rtfs.Sym("call"), rtfs.Lit(rtfs.Keyword(capID)), rtfs.Lit(argsVal))
	source := "(call :" + capID + " {:" + argKey + " \"" + argValue + "\"})"

	return newPlan(intent, intent.Goal, source, &body), nil
}
