package guardrail

import "fmt"

// VerdictKind tags a Verdict.
type VerdictKind int

const (
	// KindAllow forwards the original text.
	KindAllow VerdictKind = iota
	// KindAllowWithRedaction forwards a redacted payload.
	KindAllowWithRedaction
	// KindBlock forwards nothing.
	KindBlock
)

func (k VerdictKind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindAllowWithRedaction:
		return "allow_with_redaction"
	case KindBlock:
		return "block"
	default:
		return fmt.Sprintf("verdict(%d)", int(k))
	}
}

// Verdict is the pipeline decision. It is immutable once produced: the only
// way to build one is through the constructors below.
type Verdict struct {
	kind    VerdictKind
	payload string
	reason  string
}

// Allow forwards text unchanged.
func Allow(text string) Verdict {
	return Verdict{kind: KindAllow, payload: text}
}

// AllowWithRedaction forwards the redacted payload.
func AllowWithRedaction(payload string) Verdict {
	return Verdict{kind: KindAllowWithRedaction, payload: payload}
}

// Block rejects the request for reason (an internal category).
func Block(reason string) Verdict {
	return Verdict{kind: KindBlock, reason: reason}
}

// Kind returns the verdict tag.
func (v Verdict) Kind() VerdictKind { return v.kind }

// Allowed reports whether anything may be forwarded.
func (v Verdict) Allowed() bool { return v.kind != KindBlock }

// Payload is the only text that may be sent downstream. Empty for Block.
func (v Verdict) Payload() string { return v.payload }

// Reason is the internal block category. Never shown to clients.
func (v Verdict) Reason() string { return v.reason }

func (v Verdict) String() string {
	if v.kind == KindBlock {
		return "block(" + v.reason + ")"
	}
	return v.kind.String()
}
