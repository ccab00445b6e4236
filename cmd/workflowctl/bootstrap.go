package main

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/durableflow/engine/corepkg/advance"
	"github.com/durableflow/engine/corepkg/coreapi"
	"github.com/durableflow/engine/corepkg/emit"
	"github.com/durableflow/engine/corepkg/gate"
	"github.com/durableflow/engine/corepkg/sessionstore"
	"github.com/durableflow/engine/corepkg/snapshotstore"
	"github.com/durableflow/engine/corepkg/validationengine"
	"github.com/durableflow/engine/corepkg/workflowfile"
)

// buildAPI wires one coreapi.API over opts.DataDir/opts.WorkflowsDir,
// the same collaborators a long-lived server process would construct,
// just built fresh for the lifetime of one CLI invocation.
func buildAPI(opts *RootOptions) (*coreapi.API, error) {
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", opts.DataDir, err)
	}

	tokenKey, err := loadOrCreateTokenKey(filepath.Join(opts.DataDir, "token.key"))
	if err != nil {
		return nil, err
	}

	sessions := sessionstore.New(opts.DataDir)
	snapshots, err := snapshotstore.New(filepath.Join(opts.DataDir, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	if err := os.MkdirAll(opts.WorkflowsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflows dir %s: %w", opts.WorkflowsDir, err)
	}
	workflowStore, err := snapshotstore.New(filepath.Join(opts.DataDir, "workflows"))
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}
	loader, err := workflowfile.NewLoader(opts.WorkflowsDir, workflowStore)
	if err != nil {
		return nil, fmt.Errorf("load workflows from %s: %w", opts.WorkflowsDir, err)
	}

	engine, err := buildValidationEngine(opts)
	if err != nil {
		return nil, err
	}

	emitter := emit.NewLogEmitter(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	return coreapi.New(gate.New(opts.DataDir), sessions, snapshots, loader, engine, tokenKey, nil, emitter), nil
}

// buildValidationEngine selects a concrete advance.ValidationEngine
// backend by name, reading its API key from the conventional
// environment variable. "none" (the default) leaves validation
// unwired, which is fine for workflows whose steps carry no
// validationCriteria.
func buildValidationEngine(opts *RootOptions) (advance.ValidationEngine, error) {
	switch opts.ValidationEngine {
	case "", "none":
		return nil, nil
	case "anthropic":
		return validationengine.NewAnthropicEngine(os.Getenv("ANTHROPIC_API_KEY"), opts.ValidationModel), nil
	case "openai":
		return validationengine.NewOpenAIEngine(os.Getenv("OPENAI_API_KEY"), opts.ValidationModel), nil
	case "gemini":
		return validationengine.NewGeminiEngine(os.Getenv("GEMINI_API_KEY"), opts.ValidationModel), nil
	default:
		return nil, fmt.Errorf("unknown --validation-engine %q", opts.ValidationEngine)
	}
}

// loadOrCreateTokenKey reads the HMAC signing key at path, generating
// and persisting a fresh 32-byte key on first use. The key never
// appears in an event or a bundle; losing it invalidates every
// outstanding token but not the session log itself.
func loadOrCreateTokenKey(path string) ([]byte, error) {
	if b, err := os.ReadFile(path); err == nil {
		return b, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read token key %s: %w", path, err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate token key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write token key %s: %w", path, err)
	}
	return key, nil
}
