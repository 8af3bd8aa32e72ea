package mcpprovider

import (
	"context"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/tools"
)

// Provider exposes an MCP server as the remote data-tool provider. Tool
// schemas are discovered dynamically from the server's advertised catalog.
type Provider struct {
	endpoint string

	mu      sync.Mutex
	session *mcp.ClientSession
}

func New(endpoint string) *Provider {
	return &Provider{endpoint: endpoint}
}

var _ tools.RemoteProvider = (*Provider)(nil)

func (p *Provider) connect(ctx context.Context) (*mcp.ClientSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "datachat", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, &mcp.StreamableClientTransport{Endpoint: p.endpoint}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to tool provider at %s", p.endpoint)
	}
	log.Info().Str("endpoint", p.endpoint).Msg("connected to MCP tool provider")
	p.session = session
	return session, nil
}

func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// Tools lists the provider's advertised tools with name, description and
// argument schema.
func (p *Provider) Tools(ctx context.Context) ([]tools.Definition, error) {
	session, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}

	res, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, errors.Wrap(err, "list tools")
	}

	defs := make([]tools.Definition, 0, len(res.Tools))
	for _, t := range res.Tools {
		defs = append(defs, tools.Definition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.InputSchema,
		})
	}
	return defs, nil
}

// Call dispatches one tool invocation and flattens the textual content of the
// result. A result flagged IsError by the server comes back as a Go error so
// the gateway can fold it into an error tool-result.
func (p *Provider) Call(ctx context.Context, name string, input map[string]any) (string, error) {
	session, err := p.connect(ctx)
	if err != nil {
		return "", err
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: input})
	if err != nil {
		return "", errors.Wrapf(err, "call tool %s", name)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", errors.Errorf("tool %s reported an error: %s", name, sb.String())
	}
	return sb.String(), nil
}
