package handlers

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/expr-lang/expr"
)

// FormatterHandler implements the Formatter plugin (spec.md §4.7): pure
// date, math, and text transformations. Grounded on the original
// `system_actions/formatter_action.rs` operation catalogue; math
// expressions are evaluated with expr-lang/expr so operator precedence
// ((*,/) before (+,-), with parentheses) comes from a real parser instead
// of a hand-rolled one.
type FormatterHandler struct{}

// NewFormatterHandler constructs a FormatterHandler.
func NewFormatterHandler() *FormatterHandler { return &FormatterHandler{} }

type formatterInput struct {
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params"`
}

func (h *FormatterHandler) Handle(ctx context.Context, req Request) (any, error) {
	var in formatterInput
	if err := json.Unmarshal(req.Input, &in); err != nil {
		return nil, fmt.Errorf("formatter: decode input: %w", err)
	}

	switch in.Operation {
	case "date_parse":
		return formatDateParse(in.Params)
	case "date_add":
		return formatDateShift(in.Params, 1)
	case "date_subtract":
		return formatDateShift(in.Params, -1)
	case "date_format":
		return formatDateFormat(in.Params)
	case "date_timezone":
		return formatDateTimezone(in.Params)
	case "date_to_unix":
		return formatDateToUnix(in.Params)
	case "date_from_unix":
		return formatDateFromUnix(in.Params)
	case "date_difference":
		return formatDateDifference(in.Params)
	case "math_eval":
		return formatMathEval(in.Params)
	case "random_number":
		return formatRandomNumber(in.Params)
	case "text_capitalize", "text_upper", "text_lower", "text_trim", "text_length",
		"text_word_count", "text_extract_emails", "text_extract_urls", "text_url_encode",
		"text_url_decode", "text_html_to_markdown", "text_markdown_to_html", "text_replace",
		"text_truncate", "text_regex_extract":
		return formatText(in.Operation, in.Params)
	default:
		return nil, fmt.Errorf("formatter: unknown operation %q", in.Operation)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func formatDateParse(raw json.RawMessage) (any, error) {
	var p struct {
		Value  string `json:"value"`
		Layout string `json:"layout"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	layout := p.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, p.Value)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_parse: %w", err)
	}
	return map[string]any{"unix": t.Unix(), "rfc3339": t.Format(time.RFC3339)}, nil
}

func formatDateShift(raw json.RawMessage, sign int) (any, error) {
	var p struct {
		Value   string `json:"value"`
		Layout  string `json:"layout"`
		Years   int    `json:"years"`
		Months  int    `json:"months"`
		Days    int    `json:"days"`
		Hours   int    `json:"hours"`
		Minutes int    `json:"minutes"`
		Seconds int    `json:"seconds"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	layout := p.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, p.Value)
	if err != nil {
		return nil, fmt.Errorf("formatter: date shift: %w", err)
	}
	t = t.AddDate(sign*p.Years, sign*p.Months, sign*p.Days)
	dur := time.Duration(sign) * (time.Duration(p.Hours)*time.Hour + time.Duration(p.Minutes)*time.Minute + time.Duration(p.Seconds)*time.Second)
	t = t.Add(dur)
	return map[string]any{"unix": t.Unix(), "rfc3339": t.Format(time.RFC3339)}, nil
}

func formatDateFormat(raw json.RawMessage) (any, error) {
	var p struct {
		Value        string `json:"value"`
		InputLayout  string `json:"input_layout"`
		OutputLayout string `json:"output_layout"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	in := p.InputLayout
	if in == "" {
		in = time.RFC3339
	}
	t, err := time.Parse(in, p.Value)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_format: %w", err)
	}
	out := p.OutputLayout
	if out == "" {
		out = time.RFC3339
	}
	return t.Format(out), nil
}

func formatDateTimezone(raw json.RawMessage) (any, error) {
	var p struct {
		Value    string `json:"value"`
		Layout   string `json:"layout"`
		Timezone string `json:"timezone"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	layout := p.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, p.Value)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_timezone: %w", err)
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_timezone: %w", err)
	}
	return t.In(loc).Format(time.RFC3339), nil
}

func formatDateToUnix(raw json.RawMessage) (any, error) {
	var p struct {
		Value  string `json:"value"`
		Layout string `json:"layout"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	layout := p.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	t, err := time.Parse(layout, p.Value)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_to_unix: %w", err)
	}
	return t.Unix(), nil
}

func formatDateFromUnix(raw json.RawMessage) (any, error) {
	var p struct {
		Unix int64 `json:"unix"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return time.Unix(p.Unix, 0).UTC().Format(time.RFC3339), nil
}

func formatDateDifference(raw json.RawMessage) (any, error) {
	var p struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Layout string `json:"layout"`
		Unit   string `json:"unit"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	layout := p.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	from, err := time.Parse(layout, p.From)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_difference from: %w", err)
	}
	to, err := time.Parse(layout, p.To)
	if err != nil {
		return nil, fmt.Errorf("formatter: date_difference to: %w", err)
	}
	diff := to.Sub(from)
	switch p.Unit {
	case "seconds", "":
		return diff.Seconds(), nil
	case "minutes":
		return diff.Minutes(), nil
	case "hours":
		return diff.Hours(), nil
	case "days":
		return diff.Hours() / 24, nil
	default:
		return nil, fmt.Errorf("formatter: unknown difference unit %q", p.Unit)
	}
}

// formatMathEval evaluates a math expression with standard operator
// precedence (spec.md §4.7: "(*,/) > (+,-)" and parentheses), delegated to
// expr-lang/expr's real arithmetic parser/evaluator.
func formatMathEval(raw json.RawMessage) (any, error) {
	var p struct {
		Expression string `json:"expression"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	program, err := expr.Compile(p.Expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("formatter: math_eval compile: %w", err)
	}
	out, err := expr.Run(program, map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("formatter: math_eval run: %w", err)
	}
	return out, nil
}

func formatRandomNumber(raw json.RawMessage) (any, error) {
	var p struct {
		Min int64 `json:"min"`
		Max int64 `json:"max"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Max < p.Min {
		return nil, fmt.Errorf("formatter: random_number: max < min")
	}
	span := p.Max - p.Min + 1
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return nil, fmt.Errorf("formatter: random_number: %w", err)
	}
	return p.Min + n.Int64(), nil
}

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	urlPattern   = regexp.MustCompile(`https?://[^\s"'<>]+`)
)

func formatText(op string, raw json.RawMessage) (any, error) {
	var p struct {
		Value       string `json:"value"`
		MaxLength   int    `json:"max_length"`
		Replacement string `json:"replacement"`
		Search      string `json:"search"`
		Pattern     string `json:"pattern"`
	}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	switch op {
	case "text_capitalize":
		if p.Value == "" {
			return "", nil
		}
		return strings.ToUpper(p.Value[:1]) + p.Value[1:], nil
	case "text_upper":
		return strings.ToUpper(p.Value), nil
	case "text_lower":
		return strings.ToLower(p.Value), nil
	case "text_trim":
		return strings.TrimSpace(p.Value), nil
	case "text_length":
		return len([]rune(p.Value)), nil
	case "text_word_count":
		return len(strings.Fields(p.Value)), nil
	case "text_extract_emails":
		return emailPattern.FindAllString(p.Value, -1), nil
	case "text_extract_urls":
		return urlPattern.FindAllString(p.Value, -1), nil
	case "text_url_encode":
		return url.QueryEscape(p.Value), nil
	case "text_url_decode":
		return url.QueryUnescape(p.Value)
	case "text_html_to_markdown":
		return htmlToMarkdown(p.Value), nil
	case "text_markdown_to_html":
		return markdownToHTML(p.Value), nil
	case "text_replace":
		return strings.ReplaceAll(p.Value, p.Search, p.Replacement), nil
	case "text_truncate":
		return truncateWithEllipsis(p.Value, p.MaxLength), nil
	case "text_regex_extract":
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("formatter: text_regex_extract: %w", err)
		}
		return re.FindAllString(p.Value, -1), nil
	default:
		return nil, fmt.Errorf("formatter: unknown text operation %q", op)
	}
}

func truncateWithEllipsis(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

var (
	htmlBoldPattern   = regexp.MustCompile(`<b>(.*?)</b>`)
	htmlItalicPattern = regexp.MustCompile(`<i>(.*?)</i>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
)

// htmlToMarkdown converts a small, common subset of inline HTML to
// Markdown; it is not a full HTML parser (spec.md §4.7 names
// "HTML↔Markdown" as one of the formatter's text operations without
// specifying a full document model).
func htmlToMarkdown(s string) string {
	s = htmlBoldPattern.ReplaceAllString(s, "**$1**")
	s = htmlItalicPattern.ReplaceAllString(s, "*$1*")
	s = htmlTagPattern.ReplaceAllString(s, "")
	return s
}

var (
	mdBoldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	mdItalicPattern = regexp.MustCompile(`\*(.*?)\*`)
)

func markdownToHTML(s string) string {
	s = mdBoldPattern.ReplaceAllString(s, "<b>$1</b>")
	s = mdItalicPattern.ReplaceAllString(s, "<i>$1</i>")
	return s
}
