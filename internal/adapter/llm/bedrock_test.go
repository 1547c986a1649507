package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"streamprobe/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.Default()
}

// --- Fake Bedrock event reader ---

type fakeEventReader struct {
	ch        chan types.ConverseStreamOutput
	err       error
	closeOnce sync.Once
	closed    chan struct{}
}

// newFakeEventReader returns a reader that yields evts and then ends with err.
func newFakeEventReader(err error, evts ...types.ConverseStreamOutput) *fakeEventReader {
	r := &fakeEventReader{
		ch:     make(chan types.ConverseStreamOutput, len(evts)),
		err:    err,
		closed: make(chan struct{}),
	}
	for _, e := range evts {
		r.ch <- e
	}
	close(r.ch)
	return r
}

// newBlockingEventReader returns a reader that never yields.
func newBlockingEventReader() *fakeEventReader {
	return &fakeEventReader{
		ch:     make(chan types.ConverseStreamOutput),
		closed: make(chan struct{}),
	}
}

func (r *fakeEventReader) Events() <-chan types.ConverseStreamOutput { return r.ch }
func (r *fakeEventReader) Err() error                               { return r.err }
func (r *fakeEventReader) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

type mockAPIError struct {
	code    string
	message string
}

func (e *mockAPIError) Error() string                 { return e.message }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.message }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultServer }

type mockBedrockClient struct {
	converseStreamFunc func(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

func (m *mockBedrockClient) ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	if m.converseStreamFunc != nil {
		return m.converseStreamFunc(ctx, params, optFns...)
	}
	return nil, fmt.Errorf("not implemented")
}

func textDelta(s string) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			ContentBlockIndex: aws.Int32(0),
			Delta:             &types.ContentBlockDeltaMemberText{Value: s},
		},
	}
}

func messageStop(reason types.StopReason) types.ConverseStreamOutput {
	return &types.ConverseStreamOutputMemberMessageStop{
		Value: types.MessageStopEvent{StopReason: reason},
	}
}

func toolResultRequest(id string) domain.StreamRequest {
	return domain.StreamRequest{
		Model: "moonshotai.kimi-k2.5",
		Turns: []domain.Turn{
			domain.UserText{Text: "Weather for Tokyo?"},
			domain.AssistantText{Text: "Getting it."},
			domain.AssistantToolUse{ToolCallID: id, ToolName: "get_weather", Input: json.RawMessage(`{"city":"Tokyo"}`)},
			domain.UserToolResult{ToolCallID: id, Content: `{"temp":22}`, Status: domain.ToolResultSuccess},
		},
		Tools: []domain.ToolSchema{{
			Name:        "get_weather",
			Description: "Get weather",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
		MaxTokens: 100,
	}
}

func drain(t *testing.T, s domain.EventStream) []domain.StreamEvent {
	t.Helper()
	var got []domain.StreamEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

// --- Tests ---

func TestBedrockConverseStream(t *testing.T) {
	var received *bedrockruntime.ConverseStreamInput

	p := newBedrockProviderWithOpener(func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error) {
		received = input
		return newFakeEventReader(nil,
			&types.ConverseStreamOutputMemberMessageStart{Value: types.MessageStartEvent{Role: types.ConversationRoleAssistant}},
			textDelta("4"),
			textDelta("2"),
			&types.ConverseStreamOutputMemberContentBlockStop{Value: types.ContentBlockStopEvent{ContentBlockIndex: aws.Int32(0)}},
			messageStop(types.StopReasonEndTurn),
		), nil
	}, newTestLogger())

	stream, err := p.ConverseStream(context.Background(), toolResultRequest("abc123xyz"))
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if stream.Err() != nil {
		t.Fatalf("Err = %v", stream.Err())
	}

	wantKinds := []domain.EventKind{
		domain.EventOther,
		domain.EventContentDelta,
		domain.EventContentDelta,
		domain.EventOther,
		domain.EventMessageStop,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("events len = %d, want %d", len(events), len(wantKinds))
	}
	for i, k := range wantKinds {
		if events[i].Kind != k {
			t.Errorf("event %d kind = %q, want %q", i, events[i].Kind, k)
		}
	}
	if events[1].Text+events[2].Text != "42" {
		t.Errorf("text = %q", events[1].Text+events[2].Text)
	}
	if events[4].StopReason != domain.StopEndTurn {
		t.Errorf("StopReason = %q", events[4].StopReason)
	}

	if aws.ToString(received.ModelId) != "moonshotai.kimi-k2.5" {
		t.Errorf("ModelId = %q", aws.ToString(received.ModelId))
	}
	if aws.ToInt32(received.InferenceConfig.MaxTokens) != 100 {
		t.Errorf("MaxTokens = %d", aws.ToInt32(received.InferenceConfig.MaxTokens))
	}
	if p.Name() != "bedrock" {
		t.Errorf("Name = %q", p.Name())
	}
}

func TestBedrockConverseStreamViaClient(t *testing.T) {
	mock := &mockBedrockClient{
		converseStreamFunc: func(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
			return nil, &mockAPIError{code: "ThrottlingException", message: "slow down"}
		},
	}
	p := newBedrockProviderWithClient(mock, newTestLogger())

	_, err := p.ConverseStream(context.Background(), toolResultRequest("tool-001"))
	if !errors.Is(err, domain.ErrRateLimit) {
		t.Fatalf("err = %v, want ErrRateLimit", err)
	}
}

func TestBedrockStreamMidStreamError(t *testing.T) {
	p := newBedrockProviderWithOpener(func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error) {
		return newFakeEventReader(&mockAPIError{code: "ModelStreamErrorException", message: "stream broke"},
			textDelta("partial"),
		), nil
	}, newTestLogger())

	stream, err := p.ConverseStream(context.Background(), toolResultRequest("abc123xyz"))
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	defer stream.Close()

	events := drain(t, stream)
	if len(events) != 1 {
		t.Fatalf("events len = %d, want 1", len(events))
	}
	if !errors.Is(stream.Err(), domain.ErrStreamClosed) {
		t.Errorf("Err = %v, want ErrStreamClosed", stream.Err())
	}
}

func TestBedrockStreamContextCanceled(t *testing.T) {
	p := newBedrockProviderWithOpener(func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error) {
		return newBlockingEventReader(), nil
	}, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := p.ConverseStream(ctx, toolResultRequest("abc123xyz"))
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	defer stream.Close()

	cancel()
	drain(t, stream)
	if !errors.Is(stream.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", stream.Err())
	}
}

func TestBedrockStreamClose(t *testing.T) {
	reader := newBlockingEventReader()
	p := newBedrockProviderWithOpener(func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error) {
		return reader, nil
	}, newTestLogger())

	stream, err := p.ConverseStream(context.Background(), toolResultRequest("abc123xyz"))
	if err != nil {
		t.Fatalf("ConverseStream: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Closing twice must not panic.
	if err := stream.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	drain(t, stream)

	select {
	case <-reader.closed:
	default:
		t.Error("underlying reader was not closed")
	}
}

func TestBedrockRequestConversion(t *testing.T) {
	input, err := toBedrockConverseStreamInput(toolResultRequest("call_12345678"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	// user, assistant (text + tool use merged), user tool result
	if len(input.Messages) != 3 {
		t.Fatalf("Messages len = %d, want 3", len(input.Messages))
	}

	assistant := input.Messages[1]
	if assistant.Role != types.ConversationRoleAssistant {
		t.Errorf("assistant role = %q", assistant.Role)
	}
	if len(assistant.Content) != 2 {
		t.Fatalf("assistant content len = %d, want 2", len(assistant.Content))
	}
	toolUse, ok := assistant.Content[1].(*types.ContentBlockMemberToolUse)
	if !ok {
		t.Fatalf("expected ContentBlockMemberToolUse, got %T", assistant.Content[1])
	}
	if aws.ToString(toolUse.Value.ToolUseId) != "call_12345678" {
		t.Errorf("ToolUseId = %q", aws.ToString(toolUse.Value.ToolUseId))
	}
	if aws.ToString(toolUse.Value.Name) != "get_weather" {
		t.Errorf("Name = %q", aws.ToString(toolUse.Value.Name))
	}

	toolMsg := input.Messages[2]
	if toolMsg.Role != types.ConversationRoleUser {
		t.Errorf("tool result role = %q, want user", toolMsg.Role)
	}
	result, ok := toolMsg.Content[0].(*types.ContentBlockMemberToolResult)
	if !ok {
		t.Fatal("expected ContentBlockMemberToolResult")
	}
	if aws.ToString(result.Value.ToolUseId) != "call_12345678" {
		t.Errorf("result ToolUseId = %q", aws.ToString(result.Value.ToolUseId))
	}
	if result.Value.Status != types.ToolResultStatusSuccess {
		t.Errorf("Status = %q", result.Value.Status)
	}
	text, ok := result.Value.Content[0].(*types.ToolResultContentBlockMemberText)
	if !ok || text.Value != `{"temp":22}` {
		t.Errorf("result content = %+v", result.Value.Content[0])
	}

	if input.ToolConfig == nil || len(input.ToolConfig.Tools) != 1 {
		t.Fatalf("ToolConfig = %+v", input.ToolConfig)
	}
	spec, ok := input.ToolConfig.Tools[0].(*types.ToolMemberToolSpec)
	if !ok || aws.ToString(spec.Value.Name) != "get_weather" {
		t.Errorf("tool spec = %+v", input.ToolConfig.Tools[0])
	}
}

func TestBedrockRequestConversionErrors(t *testing.T) {
	tests := []struct {
		name string
		req  domain.StreamRequest
	}{
		{"empty model", domain.StreamRequest{Turns: []domain.Turn{domain.UserText{Text: "hi"}}}},
		{"bad tool input", domain.StreamRequest{
			Model: "m",
			Turns: []domain.Turn{domain.AssistantToolUse{ToolCallID: "x", ToolName: "t", Input: json.RawMessage(`{`)}},
		}},
		{"bad schema", domain.StreamRequest{
			Model: "m",
			Turns: []domain.Turn{domain.UserText{Text: "hi"}},
			Tools: []domain.ToolSchema{{Name: "t", InputSchema: json.RawMessage(`[`)}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toBedrockConverseStreamInput(tt.req)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestBedrockRequestNoMaxTokens(t *testing.T) {
	input, err := toBedrockConverseStreamInput(domain.StreamRequest{
		Model: "m",
		Turns: []domain.Turn{domain.UserText{Text: "What is 15 + 27?"}},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if input.InferenceConfig != nil {
		t.Errorf("InferenceConfig = %+v, want nil", input.InferenceConfig)
	}
	if input.ToolConfig != nil {
		t.Errorf("ToolConfig = %+v, want nil", input.ToolConfig)
	}
}

func TestBedrockStreamConversion(t *testing.T) {
	ev := processBedrockStreamEvent(textDelta("Hello"))
	if ev.Kind != domain.EventContentDelta || ev.Text != "Hello" {
		t.Errorf("text delta: got %+v", ev)
	}
	if ev.Raw == nil {
		t.Error("raw event should be preserved")
	}

	toolStart := &types.ConverseStreamOutputMemberContentBlockStart{
		Value: types.ContentBlockStartEvent{
			ContentBlockIndex: aws.Int32(1),
			Start: &types.ContentBlockStartMemberToolUse{
				Value: types.ToolUseBlockStart{
					ToolUseId: aws.String("tooluse_1"),
					Name:      aws.String("get_weather"),
				},
			},
		},
	}
	ev = processBedrockStreamEvent(toolStart)
	if ev.Kind != domain.EventToolUseStart || ev.ToolUse == nil {
		t.Fatalf("tool start: got %+v", ev)
	}
	if ev.ToolUse.ID != "tooluse_1" || ev.ToolUse.Name != "get_weather" {
		t.Errorf("ToolUse = %+v", ev.ToolUse)
	}

	toolDelta := &types.ConverseStreamOutputMemberContentBlockDelta{
		Value: types.ContentBlockDeltaEvent{
			Delta: &types.ContentBlockDeltaMemberToolUse{
				Value: types.ToolUseBlockDelta{Input: aws.String(`{"location":`)},
			},
		},
	}
	ev = processBedrockStreamEvent(toolDelta)
	if ev.Kind != domain.EventToolUseDelta || ev.Text != `{"location":` {
		t.Errorf("tool delta: got %+v", ev)
	}

	metadata := &types.ConverseStreamOutputMemberMetadata{
		Value: types.ConverseStreamMetadataEvent{
			Usage: &types.TokenUsage{
				InputTokens:  aws.Int32(10),
				OutputTokens: aws.Int32(20),
			},
		},
	}
	ev = processBedrockStreamEvent(metadata)
	if ev.Kind != domain.EventOther || ev.Usage == nil {
		t.Fatalf("metadata: got %+v", ev)
	}
	if ev.Usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d", ev.Usage.TotalTokens)
	}

	ev = processBedrockStreamEvent(messageStop(types.StopReasonToolUse))
	if ev.Kind != domain.EventMessageStop || ev.StopReason != domain.StopToolUse {
		t.Errorf("message stop: got %+v", ev)
	}

	ev = processBedrockStreamEvent(&types.UnknownUnionMember{Tag: "somethingNew"})
	if ev.Kind != domain.EventOther {
		t.Errorf("unknown event kind = %q, want other", ev.Kind)
	}
}

func TestBedrockErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"throttling", &mockAPIError{code: "ThrottlingException", message: "rate limited"}, domain.ErrRateLimit},
		{"quota", &mockAPIError{code: "ServiceQuotaExceededException", message: "quota"}, domain.ErrRateLimit},
		{"access denied", &mockAPIError{code: "AccessDeniedException", message: "no access"}, domain.ErrAuthInvalid},
		{"expired token", &mockAPIError{code: "ExpiredTokenException", message: "expired"}, domain.ErrAuthInvalid},
		{"model missing", &mockAPIError{code: "ResourceNotFoundException", message: "no model"}, domain.ErrModelNotFound},
		{"validation", &mockAPIError{code: "ValidationException", message: "bad toolUseId"}, domain.ErrInvalidInput},
		{"stream error", &mockAPIError{code: "ModelStreamErrorException", message: "broken"}, domain.ErrStreamClosed},
		{"internal", &mockAPIError{code: "InternalServerException", message: "server error"}, domain.ErrProviderError},
		{"model timeout", &mockAPIError{code: "ModelTimeoutException", message: "slow"}, domain.ErrProviderError},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapBedrockError(tt.err)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if mapBedrockError(nil) != nil {
		t.Error("mapBedrockError(nil) should be nil")
	}
}
