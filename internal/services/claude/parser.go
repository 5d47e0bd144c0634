package claude

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// ParsedOutput is what could be read from the tool's standard output.
// Token and Cost are nil when nothing matched.
type ParsedOutput struct {
	Text    string
	Token   *string
	Cost    *float64
	IsError bool
}

// OutputParser extracts the reply text, a continuation token and a cost
// from raw standard output.
type OutputParser interface {
	Parse(stdout string) ParsedOutput
}

// envelope is the JSON document printed with --output-format json.
type envelope struct {
	Type         string   `json:"type"`
	Subtype      string   `json:"subtype"`
	Result       string   `json:"result"`
	SessionID    string   `json:"session_id"`
	CostUSD      *float64 `json:"cost_usd"`
	TotalCostUSD *float64 `json:"total_cost_usd"`
	IsError      bool     `json:"is_error"`
}

// RuleParser reads the JSON envelope when there is one and otherwise scans
// the text with ordered rules. The first rule that matches wins.
type RuleParser struct {
	TokenRules []*regexp.Regexp
	CostRules  []*regexp.Regexp
}

var (
	defaultTokenRules = []*regexp.Regexp{
		regexp.MustCompile(`(?i)--resume\s+([A-Za-z0-9][A-Za-z0-9_-]{7,})`),
		regexp.MustCompile(`(?i)"?session[_ ]?id"?\s*[:=]\s*"?([A-Za-z0-9][A-Za-z0-9_-]{7,})`),
		regexp.MustCompile(`(?i)conversation[_ ]?id\s*[:=]\s*"?([A-Za-z0-9][A-Za-z0-9_-]{7,})`),
	}
	defaultCostRules = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"?total[_ ]cost(?:_usd)?"?\s*[:=]\s*\$?\s*([0-9]+(?:\.[0-9]+)?)`),
		regexp.MustCompile(`(?i)"?cost(?:_usd)?"?\s*[:=]\s*\$?\s*([0-9]+(?:\.[0-9]+)?)`),
		regexp.MustCompile(`\$([0-9]+\.[0-9]+)`),
	}
)

func NewRuleParser() *RuleParser {
	return &RuleParser{TokenRules: defaultTokenRules, CostRules: defaultCostRules}
}

func (p *RuleParser) Parse(stdout string) ParsedOutput {
	text := strings.TrimSpace(stdout)
	if out, ok := parseEnvelope(text); ok {
		return out
	}

	out := ParsedOutput{Text: text}
	for _, rule := range p.TokenRules {
		if m := rule.FindStringSubmatch(text); len(m) > 1 {
			token := m[1]
			out.Token = &token
			break
		}
	}
	for _, rule := range p.CostRules {
		m := rule.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if cost, err := strconv.ParseFloat(m[1], 64); err == nil {
			out.Cost = &cost
			break
		}
	}
	return out
}

func parseEnvelope(text string) (ParsedOutput, bool) {
	if !strings.HasPrefix(text, "{") {
		return ParsedOutput{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return ParsedOutput{}, false
	}
	if env.Type != "result" && env.Result == "" {
		return ParsedOutput{}, false
	}

	out := ParsedOutput{Text: strings.TrimSpace(env.Result), IsError: env.IsError}
	if env.SessionID != "" {
		token := env.SessionID
		out.Token = &token
	}
	switch {
	case env.TotalCostUSD != nil:
		out.Cost = env.TotalCostUSD
	case env.CostUSD != nil:
		out.Cost = env.CostUSD
	}
	return out, true
}
