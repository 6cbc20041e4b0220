// Package config loads flag values from YAML configuration files.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

// YAML is a kong.ConfigurationLoader for YAML documents.
//
// A flag named "oidc-issuer" is looked up as the key "oidc-issuer", then
// "oidc_issuer", and finally as the nested path oidc -> issuer. Only scalar
// and list values resolve a flag; a mapping never does.
func YAML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode YAML config: %w", err)
	}

	var f kong.ResolverFunc = func(context *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		return lookup(values, flag.Name), nil
	}

	return f, nil
}

func lookup(values map[string]any, name string) any {
	return lookupParts(values, strings.Split(name, "-"))
}

// lookupParts tries the longest prefix of parts first, joined with "-" and
// then "_", and descends into mappings for the remaining parts.
func lookupParts(values map[string]any, parts []string) any {
	for i := len(parts); i > 0; i-- {
		for _, sep := range []string{"-", "_"} {
			raw, ok := values[strings.Join(parts[:i], sep)]
			if !ok {
				continue
			}

			m, nested := raw.(map[string]any)
			if i == len(parts) {
				if !nested {
					return raw
				}
				continue
			}
			if nested {
				if v := lookupParts(m, parts[i:]); v != nil {
					return v
				}
			}
		}
	}
	return nil
}
