package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"streamprobe/internal/domain"
	"streamprobe/internal/infra/config"
)

// bedrockConverseStreamAPI abstracts the Bedrock runtime method for testability.
type bedrockConverseStreamAPI interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// bedrockEventReader is the subset of *bedrockruntime.ConverseStreamEventStream
// the provider consumes.
type bedrockEventReader interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

type bedrockOpenFunc func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error)

// BedrockProvider implements domain.StreamingProvider via the AWS Bedrock
// ConverseStream API.
type BedrockProvider struct {
	name   string
	region string
	open   bedrockOpenFunc
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, cfg config.BedrockConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = config.DefaultRegion
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(awsCfg)
	p := newBedrockProviderWithClient(client, logger)
	p.region = region
	return p, nil
}

// newBedrockProviderWithClient wires a ConverseStream client (real or mock).
func newBedrockProviderWithClient(client bedrockConverseStreamAPI, logger *slog.Logger) *BedrockProvider {
	return newBedrockProviderWithOpener(func(ctx context.Context, input *bedrockruntime.ConverseStreamInput) (bedrockEventReader, error) {
		output, err := client.ConverseStream(ctx, input)
		if err != nil {
			return nil, err
		}
		return output.GetStream(), nil
	}, logger)
}

// newBedrockProviderWithOpener injects the stream opener directly (for testing).
func newBedrockProviderWithOpener(open bedrockOpenFunc, logger *slog.Logger) *BedrockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &BedrockProvider{
		name:   "bedrock",
		open:   open,
		logger: logger,
	}
}

// Name implements domain.StreamingProvider.
func (p *BedrockProvider) Name() string { return p.name }

// Region returns the AWS region requests are sent to.
func (p *BedrockProvider) Region() string { return p.region }

// ConverseStream implements domain.StreamingProvider.
func (p *BedrockProvider) ConverseStream(ctx context.Context, req domain.StreamRequest) (domain.EventStream, error) {
	input, err := toBedrockConverseStreamInput(req)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("bedrock stream opening",
		"model", req.Model,
		"messages", len(input.Messages),
		"tools", len(req.Tools),
	)

	reader, err := p.open(ctx, input)
	if err != nil {
		return nil, mapBedrockError(err)
	}

	return newBedrockStream(ctx, reader), nil
}

// --- Stream ---

// bedrockStream converts SDK events into domain events on its own goroutine.
type bedrockStream struct {
	reader bedrockEventReader
	events chan domain.StreamEvent
	closed chan struct{}
	err    error

	closeOnce sync.Once
}

func newBedrockStream(ctx context.Context, reader bedrockEventReader) *bedrockStream {
	s := &bedrockStream{
		reader: reader,
		events: make(chan domain.StreamEvent, 16),
		closed: make(chan struct{}),
	}
	go s.pump(ctx)
	return s
}

func (s *bedrockStream) pump(ctx context.Context) {
	defer close(s.events)

	in := s.reader.Events()
	for {
		var evt types.ConverseStreamOutput
		var ok bool
		select {
		case evt, ok = <-in:
		case <-ctx.Done():
			s.err = domain.WrapOp("bedrock stream", ctx.Err())
			return
		case <-s.closed:
			return
		}
		if !ok {
			break
		}

		select {
		case s.events <- processBedrockStreamEvent(evt):
		case <-ctx.Done():
			s.err = domain.WrapOp("bedrock stream", ctx.Err())
			return
		case <-s.closed:
			return
		}
	}

	if err := s.reader.Err(); err != nil {
		s.err = mapBedrockError(err)
	}
}

// Events implements domain.EventStream.
func (s *bedrockStream) Events() <-chan domain.StreamEvent { return s.events }

// Err implements domain.EventStream.
func (s *bedrockStream) Err() error { return s.err }

// Close implements domain.EventStream.
func (s *bedrockStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return s.reader.Close()
}

// --- Bedrock request conversion ---

func toBedrockConverseStreamInput(req domain.StreamRequest) (*bedrockruntime.ConverseStreamInput, error) {
	if req.Model == "" {
		return nil, domain.NewDomainError("Bedrock.ConverseStream", domain.ErrInvalidInput, "model id is empty")
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
	}

	if req.MaxTokens > 0 {
		input.InferenceConfig = &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(req.MaxTokens)),
		}
	}

	messages, err := toBedrockMessages(req.Turns)
	if err != nil {
		return nil, err
	}
	input.Messages = messages

	if len(req.Tools) > 0 {
		tc, err := toBedrockToolConfig(req.Tools)
		if err != nil {
			return nil, err
		}
		input.ToolConfig = tc
	}

	return input, nil
}

// toBedrockMessages converts turns into messages. Consecutive turns with the
// same role become content blocks of a single message, which is how Bedrock
// expects an assistant's text and tool use to arrive.
func toBedrockMessages(turns []domain.Turn) ([]types.Message, error) {
	var messages []types.Message

	for i, turn := range turns {
		block, err := toBedrockContentBlock(turn)
		if err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}

		role := types.ConversationRoleUser
		if turn.Role() == domain.RoleAssistant {
			role = types.ConversationRoleAssistant
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, block)
			continue
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{block},
		})
	}

	return messages, nil
}

func toBedrockContentBlock(turn domain.Turn) (types.ContentBlock, error) {
	switch t := turn.(type) {
	case domain.UserText:
		return &types.ContentBlockMemberText{Value: t.Text}, nil

	case domain.AssistantText:
		return &types.ContentBlockMemberText{Value: t.Text}, nil

	case domain.AssistantToolUse:
		inputDoc := map[string]interface{}{}
		if len(t.Input) > 0 {
			if err := json.Unmarshal(t.Input, &inputDoc); err != nil {
				return nil, domain.NewDomainError("Bedrock.ConverseStream", domain.ErrInvalidInput,
					fmt.Sprintf("tool use %q input: %v", t.ToolCallID, err))
			}
		}
		return &types.ContentBlockMemberToolUse{
			Value: types.ToolUseBlock{
				ToolUseId: aws.String(t.ToolCallID),
				Name:      aws.String(t.ToolName),
				Input:     document.NewLazyDocument(inputDoc),
			},
		}, nil

	case domain.UserToolResult:
		status := types.ToolResultStatusSuccess
		if t.Status == domain.ToolResultError {
			status = types.ToolResultStatusError
		}
		return &types.ContentBlockMemberToolResult{
			Value: types.ToolResultBlock{
				ToolUseId: aws.String(t.ToolCallID),
				Content: []types.ToolResultContentBlock{
					&types.ToolResultContentBlockMemberText{Value: t.Content},
				},
				Status: status,
			},
		}, nil

	default:
		return nil, domain.NewDomainError("Bedrock.ConverseStream", domain.ErrInvalidInput,
			fmt.Sprintf("unsupported turn type %T", turn))
	}
}

func toBedrockToolConfig(tools []domain.ToolSchema) (*types.ToolConfiguration, error) {
	var bedrockTools []types.Tool
	for _, t := range tools {
		var schema map[string]interface{}
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, domain.NewDomainError("Bedrock.ConverseStream", domain.ErrInvalidInput,
					fmt.Sprintf("tool %q input schema: %v", t.Name, err))
			}
		}
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}, nil
}

// --- Bedrock stream event conversion ---

// processBedrockStreamEvent maps one SDK event to a domain event. Anything not
// explicitly recognized becomes EventOther.
func processBedrockStreamEvent(evt types.ConverseStreamOutput) domain.StreamEvent {
	out := domain.StreamEvent{Kind: domain.EventOther, Raw: evt}

	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			out.Kind = domain.EventContentDelta
			out.Text = d.Value
		case *types.ContentBlockDeltaMemberToolUse:
			out.Kind = domain.EventToolUseDelta
			out.Text = aws.ToString(d.Value.Input)
		}

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			out.Kind = domain.EventToolUseStart
			out.ToolUse = &domain.ToolInvocation{
				ID:   aws.ToString(start.Value.ToolUseId),
				Name: aws.ToString(start.Value.Name),
			}
		}

	case *types.ConverseStreamOutputMemberMessageStop:
		out.Kind = domain.EventMessageStop
		out.StopReason = domain.StopReason(e.Value.StopReason)

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage != nil {
			in := int(aws.ToInt32(e.Value.Usage.InputTokens))
			o := int(aws.ToInt32(e.Value.Usage.OutputTokens))
			out.Usage = &domain.Usage{InputTokens: in, OutputTokens: o, TotalTokens: in + o}
		}
	}

	return out
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case code == "ThrottlingException" || code == "TooManyRequestsException" ||
			code == "ServiceQuotaExceededException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException" ||
			code == "ExpiredTokenException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ResourceNotFoundException":
			return fmt.Errorf("%w: %s", domain.ErrModelNotFound, msg)
		case code == "ValidationException":
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
		case code == "ModelStreamErrorException" || strings.HasSuffix(code, "StreamErrorException"):
			return fmt.Errorf("%w: %s", domain.ErrStreamClosed, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException" || code == "ModelTimeoutException" ||
			code == "ModelErrorException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
