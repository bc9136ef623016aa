package sanitize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Signature declares one injection-detection pattern. Each signature
// represents a known prompt-attack family and is matched case-insensitively
// against the original, unsanitised prompt text.
type Signature struct {
	ID      string
	Pattern string
}

// Registry maintains a threadsafe catalogue of reusable injection signatures.
type Registry struct {
	mu         sync.RWMutex
	signatures map[string]Signature
	order      []string
}

// NewRegistry creates an empty registry instance.
func NewRegistry() *Registry {
	return &Registry{signatures: make(map[string]Signature)}
}

// Register inserts or replaces a signature definition.
func (r *Registry) Register(sig Signature) error {
	if strings.TrimSpace(sig.ID) == "" {
		return fmt.Errorf("sanitize: signature id is required")
	}
	if strings.TrimSpace(sig.Pattern) == "" {
		return fmt.Errorf("sanitize: signature %s missing pattern", sig.ID)
	}

	key := strings.ToLower(sig.ID)

	r.mu.Lock()
	if _, exists := r.signatures[key]; !exists {
		r.order = append(r.order, key)
	}
	r.signatures[key] = sig
	r.mu.Unlock()
	return nil
}

// RegisterAll adds multiple signatures.
func (r *Registry) RegisterAll(sigs []Signature) error {
	for _, sig := range sigs {
		if err := r.Register(sig); err != nil {
			return err
		}
	}
	return nil
}

// Signatures returns the registered signatures in registration order.
func (r *Registry) Signatures() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Signature, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.signatures[key])
	}
	return out
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// BuiltinRegistry exposes the process-wide registry populated with the
// builtin attack-family signatures.
func BuiltinRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = newRegistryWithBuiltins()
	})
	return defaultRegistry
}

func newRegistryWithBuiltins() *Registry {
	r := NewRegistry()
	_ = r.RegisterAll([]Signature{
		{
			ID:      "injection.instruction-override",
			Pattern: `(?is)(ignore|forget|disregard).*(previous|above|instructions)`,
		},
		{
			ID:      "injection.role-injection",
			Pattern: `(?is)(system|assistant).*(you are|you're|your role)`,
		},
		{
			ID:      "injection.override-marker",
			Pattern: `(?is)(new instructions|new prompt|override)`,
		},
		{
			ID:      "injection.special-token",
			Pattern: `(?is)(\[INST\]|\[/INST\]|<|>)`,
		},
		{
			ID:      "injection.jailbreak-keyword",
			Pattern: `(?is)(jailbreak|bypass|hack)`,
		},
		{
			ID:      "injection.exfiltration",
			Pattern: `(?is)(repeat|say|output).*(word|phrase|text)`,
		},
		{
			ID:      "injection.template-marker",
			Pattern: `(?is)(\$\{|\{\{|\[\[)`,
		},
	})
	return r
}

type compiledSignature struct {
	id   string
	expr *regexp.Regexp
}

// Detector evaluates prompt text against an eagerly compiled signature set.
type Detector struct {
	signatures []compiledSignature
}

// NewDetector compiles the registry's signatures into a detector. A signature
// with invalid syntax is skipped with a warning, never fatal: a partially
// degraded detector is safer than no detector at all.
func NewDetector(registry *Registry, logger *slog.Logger) *Detector {
	if registry == nil {
		registry = BuiltinRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}

	sigs := registry.Signatures()
	compiled := make([]compiledSignature, 0, len(sigs))
	for _, sig := range sigs {
		expr, err := regexp.Compile(sig.Pattern)
		if err != nil {
			logger.Warn("skipping invalid injection signature",
				"signature", sig.ID,
				"error", err)
			continue
		}
		compiled = append(compiled, compiledSignature{id: sig.ID, expr: expr})
	}

	return &Detector{signatures: compiled}
}

// Detect returns the identifiers of every signature matching the prompt at
// least once. Detection inspects the original text, not the sanitised form,
// so obfuscation stripped by Sanitize still contributes findings. Empty
// input yields no findings.
func (d *Detector) Detect(prompt string) []string {
	if prompt == "" {
		return nil
	}

	var found []string
	for _, sig := range d.signatures {
		if sig.expr.MatchString(prompt) {
			found = append(found, sig.id)
		}
	}
	return found
}
