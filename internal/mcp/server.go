// Package mcp implements an MCP (Model Context Protocol) server that lets
// AI agents browse the storage listing. Agents act under a policy-bound
// role and never receive credential values.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/forest6511/weblist/internal/listing"
	"github.com/forest6511/weblist/pkg/audit"
	"github.com/forest6511/weblist/pkg/cache"
	"github.com/forest6511/weblist/pkg/vault"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// ErrRateLimited is returned when a client exceeds the policy rate limit.
var ErrRateLimited = errors.New("mcp: rate limit exceeded")

// CredentialReader is the read side of the credential store.
// *vault.Store satisfies it.
type CredentialReader interface {
	List(ctx context.Context) ([]vault.CredentialInfo, error)
	Get(ctx context.Context, name string) (string, error)
}

// Options contains the collaborators of a Server.
type Options struct {
	Files *listing.Service
	// Credentials is required only when the policy allows credentials.
	Credentials CredentialReader
	// CredentialCache, when set, holds credential_list results for its TTL.
	CredentialCache *cache.Cache[[]vault.CredentialInfo]
	// Policy defaults to DefaultPolicy().
	Policy *Policy
	// User is recorded as the actor of audited file operations.
	User   string
	Logger zerolog.Logger
}

// Server represents the MCP server for weblist.
type Server struct {
	server    *mcp.Server
	files     *listing.Service
	creds     CredentialReader
	credCache *cache.Cache[[]vault.CredentialInfo]
	policy    *Policy
	limiter   *rate.Limiter
	actor     listing.Actor
	logger    zerolog.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts Options) (*Server, error) {
	if opts.Files == nil {
		return nil, errors.New("mcp: listing service is required")
	}
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	if opts.Policy.AllowCredentials && opts.Credentials == nil {
		return nil, errors.New("mcp: policy allows credentials but no credential store was given")
	}

	s := &Server{
		server:    mcp.NewServer(&mcp.Implementation{Name: "weblist", Version: Version}, nil),
		files:     opts.Files,
		creds:     opts.Credentials,
		credCache: opts.CredentialCache,
		policy:    opts.Policy,
		actor: listing.Actor{
			User:   opts.User,
			Role:   listing.Role(opts.Policy.Role),
			Source: audit.SourceAPI,
		},
		logger: opts.Logger,
	}
	if opts.Policy.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.Policy.RateLimit), opts.Policy.Burst)
	}
	s.registerTools()
	return s, nil
}

// registerTools registers the tools the policy enables.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "files_list",
		Description: "List the folders and files at a storage path. Returns names, sizes and modification times.",
	}, limited(s, "files_list", s.handleFilesList))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "files_search",
		Description: "Search one folder by case-insensitive name keyword, type ('file' or 'folder') and size range.",
	}, limited(s, "files_search", s.handleFilesSearch))

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "files_link",
		Description: "Get a direct download link for a file.",
	}, limited(s, "files_link", s.handleFilesLink))

	if s.policy.AllowShare {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "files_share",
			Description: "Create a public share link for a file or folder.",
		}, limited(s, "files_share", s.handleFilesShare))
	}

	if s.policy.AllowCredentials {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "credential_list",
			Description: "List stored credential names. Does NOT return values.",
		}, limited(s, "credential_list", s.handleCredentialList))

		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "credential_get_masked",
			Description: "Get a masked version of a credential value (e.g., '****WXYZ') to check which one is configured without exposing it.",
		}, limited(s, "credential_get_masked", s.handleCredentialGetMasked))
	}
}

// limited rejects calls beyond the policy rate limit before h runs.
func limited[In, Out any](s *Server, tool string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		if err := s.allow(tool); err != nil {
			var zero Out
			return nil, zero, err
		}
		return h(ctx, req, in)
	}
}

func (s *Server) allow(tool string) error {
	if s.limiter == nil || s.limiter.Allow() {
		return nil
	}
	s.logger.Warn().Str("tool", tool).Msg("mcp tool call rate limited")
	return fmt.Errorf("%w for %s", ErrRateLimited, tool)
}

// Run serves MCP over stdio until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().Str("role", s.policy.Role).Msg("mcp server started")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
