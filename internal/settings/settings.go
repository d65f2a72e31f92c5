// Package settings loads the optional operator settings file. Flags always
// win; the settings file just spares operators from repeating machine-local
// paths (cache dir, build-data checkout, hub URL) on every invocation.
//
// The file is HCL and may reference environment variables:
//
//	cache_dir = "${env.HOME}/.cache/art"
//	brew_hub  = "https://brewhub.example.com/brewhub"
package settings

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// Settings are defaults for runtime options. Zero values mean "not set".
type Settings struct {
	WorkingDir string `hcl:"working_dir,optional"`
	CacheDir   string `hcl:"cache_dir,optional"`
	DataPath   string `hcl:"data_path,optional"`
	BrewHub    string `hcl:"brew_hub,optional"`
	User       string `hcl:"user,optional"`
}

// Load parses the settings file at path. A missing file is not an error;
// callers get zero-valued settings.
func Load(path string) (*Settings, error) {
	s := &Settings{}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing settings file %s: %s", path, diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": envVars(),
		},
	}
	if diags := gohcl.DecodeBody(file.Body, evalCtx, s); diags.HasErrors() {
		return nil, fmt.Errorf("decoding settings file %s: %s", path, diags.Error())
	}
	return s, nil
}

func envVars() cty.Value {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if idx := strings.Index(kv, "="); idx > 0 {
			vars[kv[:idx]] = cty.StringVal(kv[idx+1:])
		}
	}
	if len(vars) == 0 {
		return cty.EmptyObjectVal
	}
	return cty.ObjectVal(vars)
}
