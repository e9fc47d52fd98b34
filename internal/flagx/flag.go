// Package flagx contains small helpers for the layered config loaders:
// picking out the flags a loader owns, locating the JSON config file and
// applying environment overrides for secrets.
package flagx

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// FilterArgs keeps only the allowed flags (and their values) from args.
// Both "-f value" and "-f=value" forms are understood. A token starting
// with "-" is never consumed as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name, _, _ := strings.Cut(arg, "=")
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		filtered = append(filtered, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			filtered = append(filtered, args[i+1])
			i++
		}
	}

	return filtered
}

// JsonConfigFlags returns the config file path given with -c or -config,
// or "" when neither is present. Other flags are ignored.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return config
}

// EnvOverride sets *dst to the value of the environment variable key when
// it is present and non-empty.
func EnvOverride(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Endpoint is an id=url pair, e.g. a trustee endpoint.
type Endpoint struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// EndpointList is a flag.Value for comma-separated id=url pairs:
//
//	-T t1=http://10.0.0.1:8081,t2=http://10.0.0.2:8081
type EndpointList []Endpoint

var _ flag.Value = (*EndpointList)(nil)

func (l *EndpointList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, len(*l))
	for _, e := range *l {
		parts = append(parts, e.ID+"="+e.URL)
	}
	return strings.Join(parts, ",")
}

func (l *EndpointList) Set(s string) error {
	var out EndpointList
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, url, ok := strings.Cut(item, "=")
		if !ok || id == "" || url == "" {
			return fmt.Errorf("invalid endpoint %q, want id=url", item)
		}
		out = append(out, Endpoint{ID: id, URL: url})
	}
	*l = out
	return nil
}
