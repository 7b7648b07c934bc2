package tool

import (
	"fmt"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// MethodSpec explicitly declares the parameters of one domain tool
// method. The reflection-driven discovery the original implementation
// used (and the associated "ignore the leading closure parameter" hack)
// is a toolchain artifact and is not reproduced here (Design Notes §9) —
// a domain tool simply declares its methods up front.
type MethodSpec struct {
	Params []ParamSpec
}

// ParamSpec names one method parameter and whether it is optional.
type ParamSpec struct {
	Name     string
	Optional bool
}

// Delegate is a domain tool class bound to one intent (§4.4 construction
// step b). Exactly one Delegate may be registered per intent (§4.6).
type Delegate interface {
	// Intent is the single intent this delegate provides tools for.
	Intent() string

	// Methods declares the parameter shape of every method this
	// delegate exposes, keyed by method name.
	Methods() map[string]MethodSpec

	// Invoke calls the named method with the given named arguments and
	// returns the string handed back to the LLM. Errors are returned to
	// the model as a deterministic string by the caller, never
	// propagated as exceptions (§7).
	Invoke(method string, args map[string]any) (string, error)
}

// ValidateAgainst checks every declared ToolDefinition against this
// delegate's method specs (§4.5 "Delegate validation"): each tool name
// must resolve to a method, arities must match, and every definition
// parameter must map by name to a method parameter — a required
// definition parameter may not correspond to an optional method
// parameter.
func ValidateAgainst(defs []model.ToolDefinition, methods map[string]MethodSpec) error {
	for _, def := range defs {
		spec, ok := methods[def.Name]
		if !ok {
			return fmt.Errorf("tool %q: no matching delegate method", def.Name)
		}
		if len(spec.Params) != len(def.Parameters) {
			return fmt.Errorf("tool %q: arity mismatch (definition has %d parameters, method has %d)",
				def.Name, len(def.Parameters), len(spec.Params))
		}

		byName := make(map[string]ParamSpec, len(spec.Params))
		for _, p := range spec.Params {
			byName[p.Name] = p
		}

		for _, defParam := range def.Parameters {
			methodParam, ok := byName[defParam.Name]
			if !ok {
				return fmt.Errorf("tool %q: parameter %q has no matching method parameter", def.Name, defParam.Name)
			}
			if defParam.Required && methodParam.Optional {
				return fmt.Errorf("tool %q: parameter %q is required but the delegate method marks it optional", def.Name, defParam.Name)
			}
		}
	}
	return nil
}
