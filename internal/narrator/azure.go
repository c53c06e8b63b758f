package narrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
)

var errNoCompletion = errors.New("no completion received from model")

// AzureOpenAI asks an Azure OpenAI chat deployment to write encounters.
type AzureOpenAI struct {
	complete func(ctx context.Context, prompt string) (string, error)
}

// NewAzureOpenAI creates a strategy backed by the given deployment.
func NewAzureOpenAI(endpoint, apiKey, deployment string) (*AzureOpenAI, error) {
	client, err := azopenai.NewClientWithKeyCredential(endpoint, azcore.NewKeyCredential(apiKey), nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure OpenAI client: %w", err)
	}

	return &AzureOpenAI{
		complete: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.GetChatCompletions(ctx, azopenai.ChatCompletionsOptions{
				DeploymentName: to.Ptr(deployment),
				Temperature:    to.Ptr[float32](0.9),
				Messages: []azopenai.ChatRequestMessageClassification{
					&azopenai.ChatRequestUserMessage{
						Content: azopenai.NewChatRequestUserMessageContent(prompt),
					},
				},
			}, nil)
			if err != nil {
				return "", err
			}
			if len(resp.Choices) > 0 && resp.Choices[0].Message != nil && resp.Choices[0].Message.Content != nil {
				return *resp.Choices[0].Message.Content, nil
			}
			return "", errNoCompletion
		},
	}, nil
}

// Name implements Strategy.
func (a *AzureOpenAI) Name() string { return "azure-openai" }

// GenerateEncounter implements Strategy.
func (a *AzureOpenAI) GenerateEncounter(ctx context.Context, req Request) (Draft, error) {
	text, err := a.complete(ctx, Prompt(req.NPC))
	if err != nil {
		return Draft{}, fmt.Errorf("chat completion: %w", err)
	}
	return ParseDraft(text)
}
