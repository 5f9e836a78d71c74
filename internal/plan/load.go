package plan

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the conventional location of the plan document,
// relative to the working directory.
const DefaultPath = ".storyloop/plan.yaml"

// Load reads, parses and validates the plan at path. JSON documents are
// accepted as well since JSON is a subset of YAML.
//
// A plan that fails validation is returned alongside a *ValidationError so
// callers can still report on it; callers that only want valid plans should
// treat any error as fatal.
func Load(path string) (*WorkPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}

	if err := Check(p); err != nil {
		return p, err
	}
	return p, nil
}

// Parse decodes a plan document without validating it. Unknown fields are
// rejected so typos in field names surface early.
func Parse(data []byte) (*WorkPlan, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty plan document")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p WorkPlan
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Hash returns the hex sha256 of a plan document's bytes.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashFile hashes the plan document at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Hash(data), nil
}
