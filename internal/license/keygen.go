package license

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	apperrors "licenselock/internal/errors"
)

// KeyAlphabet excludes the look-alike characters 0, O, 1 and I.
const KeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// maxProvisionAttempts bounds regeneration when a fresh key collides.
const maxProvisionAttempts = 5

// KeyFormat shapes generated identifiers as PREFIX-XXXX-XXXX-XXXX.
type KeyFormat struct {
	Prefix    string
	Groups    int
	GroupSize int
	Separator string
}

// DefaultKeyFormat returns the LIC-XXXX-XXXX-XXXX format.
func DefaultKeyFormat() KeyFormat {
	return KeyFormat{Prefix: "LIC", Groups: 3, GroupSize: 4, Separator: "-"}
}

// Len returns the length of identifiers in this format.
func (f KeyFormat) Len() int {
	n := f.Groups*f.GroupSize + (f.Groups-1)*len(f.Separator)
	if f.Prefix != "" {
		n += len(f.Prefix) + len(f.Separator)
	}
	return n
}

// Generator produces random license identifiers.
type Generator struct {
	format   KeyFormat
	alphabet string
	rand     io.Reader
}

// NewGenerator returns a generator drawing from crypto/rand.
func NewGenerator(format KeyFormat) *Generator {
	return &Generator{format: format, alphabet: KeyAlphabet, rand: rand.Reader}
}

// Format returns the generator's key format.
func (g *Generator) Format() KeyFormat {
	return g.format
}

// Generate returns a new identifier. Every position is drawn uniformly from
// KeyAlphabet; global uniqueness is left to the store's insert-if-absent.
func (g *Generator) Generate() (string, error) {
	n := g.format.Groups * g.format.GroupSize
	chars, err := g.draw(n)
	if err != nil {
		return "", fmt.Errorf("failed to generate license key: %w", err)
	}

	var b strings.Builder
	b.Grow(g.format.Len())
	if g.format.Prefix != "" {
		b.WriteString(g.format.Prefix)
		b.WriteString(g.format.Separator)
	}
	for i := 0; i < g.format.Groups; i++ {
		if i > 0 {
			b.WriteString(g.format.Separator)
		}
		b.Write(chars[i*g.format.GroupSize : (i+1)*g.format.GroupSize])
	}
	return b.String(), nil
}

// draw returns n alphabet characters using rejection sampling so that every
// character is equally likely for any alphabet length.
func (g *Generator) draw(n int) ([]byte, error) {
	size := len(g.alphabet)
	limit := 256 - 256%size

	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return nil, err
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, g.alphabet[int(b)%size])
			if len(out) == n {
				break
			}
		}
	}
	return out, nil
}

// Provision generates and stores count new unredeemed records, regenerating
// any key that collides with an existing record.
func (e *Engine) Provision(ctx context.Context, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", apperrors.ErrBadRequest)
	}

	ctx, span := e.tracer.Start(ctx, "license.Provision")
	defer span.End()

	keys := make([]string, 0, count)
	defer func() { e.metrics.recordProvisioned(ctx, len(keys)) }()

	for len(keys) < count {
		key, err := e.provisionOne(ctx)
		if err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}

	e.logInfo(ctx, "provision", "License keys provisioned", slog.Int("count", len(keys)))
	return keys, nil
}

func (e *Engine) provisionOne(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxProvisionAttempts; attempt++ {
		key, err := e.generator.Generate()
		if err != nil {
			return "", err
		}
		_, err = e.store.InsertIfAbsent(ctx, NewRecord(key, OriginProvisioned, e.now()))
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrAlreadyExists) {
			return "", e.storeError(ctx, "insert", err)
		}
		e.logWarn(ctx, "provision", "Generated key collided, regenerating", licenseAttrs(key)...)
	}
	return "", fmt.Errorf("no unique license key after %d attempts", maxProvisionAttempts)
}

// Generate returns a fresh identifier without storing it.
func (e *Engine) Generate() (string, error) {
	return e.generator.Generate()
}
