package actions

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/jobflow/pkg/schema"
)

const defaultHash = "sha256"

var hashes = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha384": sha512.New384,
	"sha512": sha512.New,
}

// CryptoActions returns the identifier actions used to derive invoice and
// package numbers: content digests and UUIDs.
func CryptoActions() []Action {
	return []Action{digestAction{}, uuidAction{}}
}

func lookupHash(name string) (func() hash.Hash, error) {
	if name == "" {
		name = defaultHash
	}
	if h, ok := hashes[name]; ok {
		return h, nil
	}
	known := make([]string, 0, len(hashes))
	for k := range hashes {
		known = append(known, k)
	}
	sort.Strings(known)
	return nil, schema.NewErrorf(schema.ErrCodeValidation,
		"unsupported hash algorithm %q (want one of %s)", name, strings.Join(known, ", "))
}

// digestAction hashes "data". An optional "length" truncates the hex digest,
// which is enough for short human-facing numbers.
type digestAction struct{}

func (digestAction) Name() string { return "crypto.hash" }

func (digestAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Hex digest of data, optionally truncated",
		InputSchema: []byte(`{"type":"object","required":["data"],"properties":{` +
			`"data":{},"algorithm":{"type":"string"},"length":{"type":"integer","minimum":1}}}`),
	}
}

func (digestAction) Validate(params map[string]any) error {
	if _, ok := params["data"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "crypto.hash: data is required")
	}
	alg, _ := params["algorithm"].(string)
	_, err := lookupHash(alg)
	return err
}

func (digestAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	alg, _ := input.Params["algorithm"].(string)
	newHash, err := lookupHash(alg)
	if err != nil {
		return nil, err
	}
	if alg == "" {
		alg = defaultHash
	}

	h := newHash()
	fmt.Fprint(h, input.Params["data"])
	digest := hex.EncodeToString(h.Sum(nil))
	if n, ok := toInt(input.Params["length"]); ok && n > 0 && n < len(digest) {
		digest = digest[:n]
	}
	return &ActionOutput{Data: map[string]any{"hash": digest, "algorithm": alg}}, nil
}

// uuidAction returns a random UUID, or a name-based (v5) one when "name" is
// given so reruns with the same input get the same identifier.
type uuidAction struct{}

func (uuidAction) Name() string { return "crypto.uuid" }

func (uuidAction) Schema() ActionSchema {
	return ActionSchema{
		Description: "Random v4 UUID, or a v5 UUID derived from name",
		InputSchema: []byte(`{"type":"object","properties":{"name":{"type":"string"}}}`),
	}
}

func (uuidAction) Validate(map[string]any) error { return nil }

func (uuidAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	id := uuid.New()
	if name, _ := input.Params["name"].(string); name != "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	}
	return &ActionOutput{Data: map[string]any{"uuid": id.String()}}, nil
}

// toInt accepts the integer forms a YAML or JSON decoder produces.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	}
	return 0, false
}
