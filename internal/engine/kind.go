package engine

import "fmt"

// Kind is the closed set of engine variants.
type Kind int

const (
	KindLocal Kind = iota
	KindOpenAI
	KindAnthropic
	KindGemini
	KindOllama
	KindMistral
	KindGroq
	KindDeepSeek
	KindLlamaCpp
	KindLlamaFile
)

var kindNames = [...]string{
	KindLocal:     "local",
	KindOpenAI:    "openai",
	KindAnthropic: "anthropic",
	KindGemini:    "gemini",
	KindOllama:    "ollama",
	KindMistral:   "mistral",
	KindGroq:      "groq",
	KindDeepSeek:  "deepseek",
	KindLlamaCpp:  "llamacpp",
	KindLlamaFile: "llamafile",
}

// Kinds returns every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

// String returns the configuration name of the kind.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("engine: unknown kind %q", s)
}

// IsNetwork reports whether engines of this kind call out over the network.
// Self-hosted inference servers count as network engines.
func (k Kind) IsNetwork() bool {
	switch k {
	case KindLocal:
		return false
	case KindOpenAI, KindAnthropic, KindGemini, KindOllama, KindMistral,
		KindGroq, KindDeepSeek, KindLlamaCpp, KindLlamaFile:
		return true
	}
	return false
}
