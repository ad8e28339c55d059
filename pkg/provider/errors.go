package provider

import "errors"

// ErrUnknownKind is returned when configuration names a source that does not exist.
var ErrUnknownKind = errors.New("unknown provider kind")

// Kinds accepted by provider.kind.
const (
	KindEcho   = "echo"
	KindOpenAI = "openai"
	KindAzure  = "azure"
)
