package capabilities

import "sort"

// FormSignature is an opaque 64-bit identifier derived from a web form's structure.
type FormSignature uint64

// Result describes what is known about the fast checkout capabilities of one origin.
// A Result is immutable once constructed and is safe to copy.
type Result struct {
	signatures  map[FormSignature]struct{}
	consentless bool
}

// NewResult builds a Result from the trigger form signatures reported for an origin.
// Duplicate signatures are collapsed.
func NewResult(signatures []FormSignature, supportsConsentlessExecution bool) Result {
	set := make(map[FormSignature]struct{}, len(signatures))
	for _, sig := range signatures {
		set[sig] = struct{}{}
	}
	return Result{signatures: set, consentless: supportsConsentlessExecution}
}

// SupportsForm reports whether sig may trigger fast checkout on the origin.
func (r Result) SupportsForm(sig FormSignature) bool {
	_, ok := r.signatures[sig]
	return ok
}

// SupportsConsentlessExecution reports whether the flow may run without an explicit consent prompt.
func (r Result) SupportsConsentlessExecution() bool {
	return r.consentless
}

// SupportedFormSignatures returns the signatures in ascending order.
func (r Result) SupportedFormSignatures() []FormSignature {
	out := make([]FormSignature, 0, len(r.signatures))
	for sig := range r.signatures {
		out = append(out, sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Empty reports whether the origin is known to support nothing.
func (r Result) Empty() bool {
	return len(r.signatures) == 0 && !r.consentless
}
