package chat

import (
	"context"
	"iter"
)

// SessionConfig is the fixed configuration used to open a remote session.
// Nil sampling parameters leave the provider default in place; an explicit
// zero is sent as zero.
type SessionConfig struct {
	Model             string   `json:"model" yaml:"model"`
	SystemInstruction string   `json:"systemInstruction" yaml:"systemInstruction"`
	Temperature       *float32 `json:"temperature,omitempty" yaml:"temperature"`
	TopP              *float32 `json:"topP,omitempty" yaml:"topP"`
	TopK              *int32   `json:"topK,omitempty" yaml:"topK"`
	MaxOutputTokens   int32    `json:"maxOutputTokens" yaml:"maxOutputTokens"`
}

// Session is a handle to a live remote conversation context.
type Session interface {
	ID() string
}

// RemoteChatClient opens sessions with a remote model service and streams
// replies to utterances.
//
// StreamTurn returns a finite sequence of text fragments. A non-nil error ends
// the sequence. Consumers stop the stream by breaking out of the range loop or
// cancelling ctx; implementations must release the underlying transport in
// both cases. history holds the full conversation including the utterance;
// implementations with server-side memory may ignore it.
type RemoteChatClient interface {
	OpenSession(ctx context.Context, cfg SessionConfig) (Session, error)
	StreamTurn(ctx context.Context, s Session, utterance string, history []Message) iter.Seq2[string, error]
}
