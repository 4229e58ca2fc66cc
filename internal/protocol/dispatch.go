package protocol

import "github.com/yszxh/gproxy/internal/usage"

// RuleKind classifies how a provider serves one operation.
type RuleKind int

const (
	// RuleUnsupported synthesizes a local 501 error response.
	RuleUnsupported RuleKind = iota
	// RuleNative forwards the request to the upstream in its own protocol.
	RuleNative
	// RuleTransform translates the request into Target's protocol, calls the
	// upstream natively in that protocol, then translates the answer back.
	RuleTransform
	// RuleLocal answers without touching the upstream.
	RuleLocal
)

// DispatchRule is one dispatch table entry.
type DispatchRule struct {
	Kind   RuleKind
	Target Proto
	Usage  usage.Kind
}

// DispatchTable maps every operation to its rule for one provider.
// Providers declare their table once, as a constant, at construction.
type DispatchTable [OperationCount]DispatchRule

// Rule returns the entry for op; out-of-range operations are unsupported.
func (t *DispatchTable) Rule(op Operation) DispatchRule {
	if op < 0 || op >= OperationCount {
		return DispatchRule{Kind: RuleUnsupported}
	}
	return t[op]
}

// Native marks an operation the provider implements in its own protocol.
func Native(kind usage.Kind) DispatchRule {
	return DispatchRule{Kind: RuleNative, Usage: kind}
}

// Transform marks an operation served by translating to target first.
func Transform(target Proto, kind usage.Kind) DispatchRule {
	return DispatchRule{Kind: RuleTransform, Target: target, Usage: kind}
}

// Local marks an operation answered without an upstream call.
func Local() DispatchRule { return DispatchRule{Kind: RuleLocal} }

// NativeTableFor builds a table where every operation of the native protocol
// is Native and every other generation-family operation transforms into it.
// Count/list/get operations of foreign protocols transform as well; a
// provider that cannot serve one overrides the entry afterwards.
func NativeTableFor(native Proto, kind usage.Kind) DispatchTable {
	var table DispatchTable
	for op := Operation(0); op < OperationCount; op++ {
		switch op {
		case OpOAuthStart, OpOAuthCallback, OpProviderUsage:
			table[op] = DispatchRule{Kind: RuleLocal}
			continue
		}
		if op.Proto() == native {
			table[op] = Native(kind)
			continue
		}
		table[op] = Transform(native, kind)
	}
	return table
}
