// Package slack implements the gateway's "messaging:slack" plugin, the
// second upstream provider class alongside LLMs (spec.md §1's "(LLM, email,
// etc.)"). Execute wraps slack-go/slack's PostMessageContext, the same SDK
// call the teacher's pkg/slack.Notifier.PostAlert uses, generalized from a
// fixed alert template to an arbitrary operator-authored message.
package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	goslack "github.com/slack-go/slack"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/plugin"
)

// ID is this plugin's "<resourceType>:<provider>" registry key.
const ID = "messaging:slack"

// postMessageAction is the only action this plugin supports.
const postMessageAction = "messages.post"

// Plugin implements plugin.Plugin for Slack's chat.postMessage API.
type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return ID }

func (p *Plugin) CredentialSchema() plugin.CredentialSchema {
	return plugin.CredentialSchema{
		KeyLabel:     "bot token",
		ConfigFields: []string{"defaultChannel"},
	}
}

// postMessageRequest is the JSON body apps send for messages.post.
type postMessageRequest struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

func (p *Plugin) ValidateAndShape(ctx context.Context, req plugin.Request, constraints domain.Constraints) (plugin.ShapedRequest, error) {
	if req.Action != postMessageAction {
		return plugin.ShapedRequest{}, fmt.Errorf("slack: unsupported action %q", req.Action)
	}
	if req.Stream {
		return plugin.ShapedRequest{}, fmt.Errorf("slack: streaming is not supported")
	}

	var body postMessageRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return plugin.ShapedRequest{}, fmt.Errorf("slack: decoding request: %w", err)
	}
	if body.Channel == "" {
		return plugin.ShapedRequest{}, fmt.Errorf("slack: channel is required")
	}
	if body.Text == "" {
		return plugin.ShapedRequest{}, fmt.Errorf("slack: text is required")
	}

	return plugin.ShapedRequest{Action: req.Action, Body: req.Body}, nil
}

type postMessageResponse struct {
	ChannelID string `json:"channel_id"`
	Timestamp string `json:"ts"`
}

// Execute posts the message via slack-go/slack. streamTo is always nil for
// this plugin; Slack's Web API has no streaming response shape to forward.
func (p *Plugin) Execute(ctx context.Context, req plugin.ShapedRequest, credential plugin.Credential, streamTo io.Writer) (*plugin.Result, error) {
	var body postMessageRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, fmt.Errorf("slack: decoding shaped request: %w", err)
	}

	channel := body.Channel
	if channel == "" {
		channel = credential.Config["defaultChannel"]
	}

	client := goslack.New(credential.Key)
	channelID, ts, err := client.PostMessageContext(ctx, channel, goslack.MsgOptionText(body.Text, false))
	if err != nil {
		return nil, err
	}

	respBody, err := json.Marshal(postMessageResponse{ChannelID: channelID, Timestamp: ts})
	if err != nil {
		return nil, fmt.Errorf("slack: encoding response: %w", err)
	}
	return &plugin.Result{Body: respBody, StatusCode: 200}, nil
}

// ExtractUsage always reports one request unit; Slack messages carry no
// token usage to meter.
func (p *Plugin) ExtractUsage(resp []byte) (plugin.Usage, error) {
	return plugin.Usage{RequestUnits: 1}, nil
}

func (p *Plugin) MapError(statusCode int, body []byte, transportErr error) error {
	if transportErr != nil {
		return gatewayerr.Provider("slack_transport_error", 502, transportErr.Error(), true)
	}
	switch statusCode {
	case 429:
		return gatewayerr.Provider("slack_rate_limited", 429, "slack rate limited the request", true)
	case 401, 403:
		return gatewayerr.Provider("slack_auth_error", statusCode, "slack rejected the bot token", false)
	default:
		return gatewayerr.Provider("slack_error", 502, fmt.Sprintf("slack returned status %d", statusCode), false)
	}
}
