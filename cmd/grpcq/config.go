package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// yamlLoader resolves flags from a YAML document. Keys are flag names;
// a nested mapping named after a command scopes its flags:
//
//	addr: localhost:9090
//	unary:
//	  repeat: 100
func yamlLoader(r io.Reader) (kong.Resolver, error) {
	var doc map[string]any
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}

	return kong.ResolverFunc(func(kctx *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		// сначала секция команды, потом верхний уровень
		if cmd := kctx.Selected(); cmd != nil {
			if section, ok := doc[cmd.Name].(map[string]any); ok {
				if v, ok := lookup(section, flag.Name); ok {
					return v, nil
				}
			}
		}
		if v, ok := lookup(doc, flag.Name); ok {
			return v, nil
		}
		return nil, nil
	}), nil
}

func lookup(m map[string]any, name string) (any, bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		if v, ok := m[key]; ok {
			if _, nested := v.(map[string]any); nested {
				continue
			}
			if list, ok := v.([]any); ok {
				parts := make([]string, len(list))
				for i, item := range list {
					parts[i] = fmt.Sprint(item)
				}
				return strings.Join(parts, ","), true
			}
			return v, true
		}
	}
	return nil, false
}
