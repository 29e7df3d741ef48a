// Package jsonx extracts JSON values from unstructured LLM output.
//
// Coding agents wrap their answers in prose, markdown fences, or ANSI color
// codes. Harvest applies layered strategies from most to least reliable and
// returns the first candidate that parses.
package jsonx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// maxInputBytes caps the input size to prevent pathological memory use when
// an agent dumps binary or repeated output.
const maxInputBytes = 10 * 1024 * 1024

var (
	reANSI = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

	// reJSONFence matches a fence explicitly tagged as json.
	reJSONFence = regexp.MustCompile("(?s)```json[ \\t]*\n(.*?)\n```")

	// reAnyFence matches any fenced block, tagged or not.
	reAnyFence = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\n(.*?)\n```")
)

// Harvest returns the first JSON value found in text. Strategies, in order:
//
//  1. a fenced block labeled json
//  2. any fenced block
//  3. the widest balanced {...} pair, then the widest [...] pair
//  4. the whole string
//
// A single diagnostic error is returned when all strategies fail.
func Harvest(text string) (json.RawMessage, error) {
	if len(text) > maxInputBytes {
		return nil, fmt.Errorf("jsonx: input exceeds %d bytes", maxInputBytes)
	}
	text = strings.TrimPrefix(text, "\xef\xbb\xbf")
	text = reANSI.ReplaceAllString(text, "")

	for _, strategy := range []func(string) (json.RawMessage, bool){
		fromJSONFence,
		fromAnyFence,
		fromDelimiters,
		fromWhole,
	} {
		if raw, ok := strategy(text); ok {
			return raw, nil
		}
	}
	return nil, fmt.Errorf("jsonx: no valid JSON found in %d bytes of output", len(text))
}

// HarvestInto extracts JSON from text and unmarshals it into target.
func HarvestInto(text string, target any) error {
	raw, err := Harvest(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("jsonx: unmarshal: %w", err)
	}
	return nil
}

func fromJSONFence(text string) (json.RawMessage, bool) {
	return firstValidFence(reJSONFence, text)
}

func fromAnyFence(text string) (json.RawMessage, bool) {
	return firstValidFence(reAnyFence, text)
}

func firstValidFence(re *regexp.Regexp, text string) (json.RawMessage, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		inner := strings.TrimSpace(m[1])
		if inner != "" && json.Valid([]byte(inner)) {
			return json.RawMessage(inner), true
		}
	}
	return nil, false
}

// fromDelimiters finds the widest balanced delimiter span in the text and
// validates it. Braces win over brackets on equal width so that an object
// is preferred when both wrap the same content.
func fromDelimiters(text string) (json.RawMessage, bool) {
	var best json.RawMessage
	bestIsObject := false

	for i := 0; i < len(text); i++ {
		var closeCh byte
		switch text[i] {
		case '{':
			closeCh = '}'
		case '[':
			closeCh = ']'
		default:
			continue
		}
		end := matchingDelimiter(text, i, text[i], closeCh)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}
		isObject := text[i] == '{'
		if len(candidate) > len(best) || (len(candidate) == len(best) && isObject && !bestIsObject) {
			best = json.RawMessage(candidate)
			bestIsObject = isObject
		}
		// Nothing inside this span can be wider than the span itself.
		i = end
	}
	return best, best != nil
}

// matchingDelimiter returns the index of the closer balancing text[start].
// It tracks nesting depth and skips double-quoted strings, including escape
// sequences, so delimiters inside string values are ignored. Returns -1 when
// the span never closes.
func matchingDelimiter(text string, start int, openCh, closeCh byte) int {
	depth := 0
	inString := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func fromWhole(text string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed), true
	}
	return nil, false
}
