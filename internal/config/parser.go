package config

import (
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. RAFTD_NODE_ID.
const EnvPrefix = "RAFTD"

// Parser errors.
var (
	ErrInvalidYAML     = errors.New("invalid YAML format")
	ErrInvalidDuration = errors.New("invalid duration format")
	ErrInvalidBool     = errors.New("invalid boolean")
	ErrFileNotFound    = errors.New("configuration file not found")
)

// LoadConfig loads configuration from a file path.
// It reads the file, substitutes environment variables, parses YAML,
// applies defaults for missing values and then RAFTD_* overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrFileNotFound, path)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	return ParseConfig(data)
}

// ParseConfig parses configuration from YAML data.
func ParseConfig(data []byte) (*Config, error) {
	data = substituteEnvVars(data)

	root := &yamlNode{indent: -1}
	if err := buildTree(strings.Split(string(data), "\n"), root); err != nil {
		return nil, err
	}

	config := DefaultConfig()
	if err := decode(childrenMap(root), config); err != nil {
		return nil, err
	}
	if err := envconfig.Process(EnvPrefix, config); err != nil {
		return nil, errors.Wrap(err, "apply environment overrides")
	}
	return config, nil
}

// decode copies the parsed tree onto config. Keys that are absent keep
// their current values.
func decode(tree map[string]interface{}, config *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(durationHook, boolHook),
		WeaklyTypedInput: true,
		Result:           config,
	})
	if err != nil {
		return errors.Wrap(err, "create config decoder")
	}
	if err := decoder.Decode(tree); err != nil {
		return errors.Wrap(err, "decode config")
	}
	return nil
}

func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	return parseDuration(data.(string))
}

func boolHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Bool {
		return data, nil
	}
	return parseBool(data.(string))
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		content := string(match[2 : len(match)-1])

		if idx := strings.Index(content, ":-"); idx != -1 {
			if val := os.Getenv(content[:idx]); val != "" {
				return []byte(val)
			}
			return []byte(content[idx+2:])
		}
		return []byte(os.Getenv(content))
	})
}

// yamlNode represents a parsed YAML node.
type yamlNode struct {
	key       string
	value     string
	indent    int
	children  []*yamlNode
	listItems []string
}

// buildTree builds a tree structure from YAML lines. A "- key: value" item
// becomes a keyless child holding the item's fields.
func buildTree(lines []string, root *yamlNode) error {
	stack := []*yamlNode{root}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		indent := countIndent(line)
		isItem := trimmed == "-" || strings.HasPrefix(trimmed, "- ")

		// List items may sit at their parent key's indentation.
		for len(stack) > 1 {
			top := stack[len(stack)-1]
			if top.indent < indent || (isItem && top.indent == indent && top.key != "") {
				break
			}
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]

		if isItem {
			content := strings.TrimSpace(strings.TrimPrefix(trimmed, "-"))
			key, value, ok := splitKeyValue(content)
			if !ok {
				parent.listItems = append(parent.listItems, unquote(stripComment(content)))
				continue
			}
			item := &yamlNode{indent: indent}
			item.children = append(item.children, &yamlNode{key: key, value: value, indent: indent + 2})
			parent.children = append(parent.children, item)
			stack = append(stack, item)
			continue
		}

		key, value, ok := splitKeyValue(trimmed)
		if !ok {
			return errors.Wrapf(ErrInvalidYAML, "line %d: expected key: value", i+1)
		}
		node := &yamlNode{key: key, value: value, indent: indent}
		parent.children = append(parent.children, node)
		stack = append(stack, node)
	}

	return nil
}

// splitKeyValue splits "key: value" or "key:". A colon not followed by a
// space belongs to the value, so "- host:port" is a plain list item.
func splitKeyValue(s string) (string, string, bool) {
	idx := strings.Index(s, ": ")
	if idx == -1 {
		if !strings.HasSuffix(s, ":") {
			return "", "", false
		}
		idx = len(s) - 1
	}
	key := strings.TrimSpace(s[:idx])
	if key == "" {
		return "", "", false
	}
	return key, unquote(stripComment(strings.TrimSpace(s[idx+1:]))), true
}

// stripComment removes a trailing " # comment" from an unquoted value.
func stripComment(s string) string {
	if strings.HasPrefix(s, `"`) || strings.HasPrefix(s, "'") {
		return s
	}
	if idx := strings.Index(s, " #"); idx != -1 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

// countIndent counts the number of leading spaces.
func countIndent(line string) int {
	count := 0
	for _, ch := range line {
		if ch == ' ' {
			count++
		} else if ch == '\t' {
			count += 2 // Treat tab as 2 spaces
		} else {
			break
		}
	}
	return count
}

// unquote removes surrounding quotes from a string.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parseInlineArray parses inline array format like ["a", "b", "c"]
func parseInlineArray(s string) []string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil
	}

	s = s[1 : len(s)-1]
	if s == "" {
		return []string{}
	}

	var result []string
	for _, item := range strings.Split(s, ",") {
		item = unquote(strings.TrimSpace(item))
		if item != "" {
			result = append(result, item)
		}
	}
	return result
}

// childrenMap converts the children of n into a generic map. Keys with
// an empty value are left out so they keep their defaults.
func childrenMap(n *yamlNode) map[string]interface{} {
	m := make(map[string]interface{}, len(n.children))
	for _, child := range n.children {
		if v, ok := nodeValue(child); ok {
			m[child.key] = v
		}
	}
	return m
}

func nodeValue(n *yamlNode) (interface{}, bool) {
	switch {
	case len(n.children) > 0 && n.children[0].key == "":
		list := make([]interface{}, 0, len(n.children))
		for _, item := range n.children {
			list = append(list, childrenMap(item))
		}
		return list, true
	case len(n.children) > 0:
		return childrenMap(n), true
	case len(n.listItems) > 0:
		return toInterfaces(n.listItems), true
	case n.value == "":
		return nil, false
	}
	if arr := parseInlineArray(n.value); arr != nil {
		return toInterfaces(arr), true
	}
	return n.value, true
}

func toInterfaces(items []string) []interface{} {
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// parseDuration parses a duration string supporting formats like "30s", "5m", "1h", "90d".
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, errors.Wrap(ErrInvalidDuration, s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidDuration, s)
	}
	return dur, nil
}

// parseBool parses a boolean string.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off", "":
		return false, nil
	}
	return false, errors.Wrap(ErrInvalidBool, s)
}
