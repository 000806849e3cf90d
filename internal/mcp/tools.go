package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/weblist/internal/listing"
	"github.com/forest6511/weblist/pkg/vault"
)

const credentialListKey = "credential_list"

// PathInput is the input of the files_* tools.
type PathInput struct {
	Path string `json:"path"`
}

// FileInfo describes one listing entry.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Type     string `json:"type"`
	Size     int64  `json:"size,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// FilesListOutput represents output for files_list tool.
type FilesListOutput struct {
	Path       string     `json:"path"`
	Entries    []FileInfo `json:"entries"`
	TotalCount int        `json:"total_count"`
	TotalSize  int64      `json:"total_size"`
}

// FilesSearchInput represents input for files_search tool.
type FilesSearchInput struct {
	Path    string `json:"path"`
	Keyword string `json:"keyword,omitempty"`
	Type    string `json:"type,omitempty"`
	MinSize int64  `json:"min_size,omitempty"`
	MaxSize int64  `json:"max_size,omitempty"`
}

// FilesSearchOutput represents output for files_search tool.
type FilesSearchOutput struct {
	Path    string     `json:"path"`
	Entries []FileInfo `json:"entries"`
	Count   int        `json:"count"`
}

// LinkOutput represents output for files_link and files_share.
type LinkOutput struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// CredentialListInput represents input for credential_list tool.
type CredentialListInput struct{}

// CredentialListOutput represents output for credential_list tool.
type CredentialListOutput struct {
	Credentials []CredentialInfo `json:"credentials"`
}

// CredentialInfo represents metadata for a credential (no value).
type CredentialInfo struct {
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
}

// CredentialGetMaskedInput represents input for credential_get_masked tool.
type CredentialGetMaskedInput struct {
	Name string `json:"name"`
}

// CredentialGetMaskedOutput represents output for credential_get_masked tool.
type CredentialGetMaskedOutput struct {
	Name        string `json:"name"`
	MaskedValue string `json:"masked_value"`
	ValueLength int    `json:"value_length"`
}

// checkPath cleans p and applies the policy.
func (s *Server) checkPath(p string) (string, error) {
	if p == "" {
		p = "/"
	}
	clean, ok := listing.CleanPath(p)
	if !ok {
		return "", fmt.Errorf("invalid path %q", p)
	}
	if allowed, reason := s.policy.IsPathAllowed(clean); !allowed {
		s.logger.Warn().Str("path", clean).Str("reason", reason).Msg("mcp request denied by policy")
		return "", fmt.Errorf("denied by policy: %s", reason)
	}
	return clean, nil
}

func resultError(r listing.Result) error {
	if r.Ok() {
		return nil
	}
	return errors.New(r.String())
}

func (s *Server) handleFilesList(ctx context.Context, _ *mcp.CallToolRequest, input PathInput) (*mcp.CallToolResult, FilesListOutput, error) {
	p, err := s.checkPath(input.Path)
	if err != nil {
		return nil, FilesListOutput{}, err
	}
	l, res := s.files.List(ctx, s.actor, p)
	if err := resultError(res); err != nil {
		return nil, FilesListOutput{}, err
	}

	out := FilesListOutput{
		Path:       l.Path,
		Entries:    make([]FileInfo, 0, l.TotalCount),
		TotalCount: l.TotalCount,
		TotalSize:  l.TotalSize,
	}
	for _, group := range [][]listing.Entry{l.Folders, l.Files} {
		for _, e := range group {
			// Hide children the policy would refuse.
			if allowed, _ := s.policy.IsPathAllowed(e.Path); !allowed {
				continue
			}
			out.Entries = append(out.Entries, fileInfo(e))
		}
	}
	return nil, out, nil
}

func fileInfo(e listing.Entry) FileInfo {
	fi := FileInfo{Name: e.Name, Path: e.Path, Type: e.Kind, Size: e.Size}
	if !e.Modified.IsZero() {
		fi.Modified = e.Modified.Format(time.RFC3339)
	}
	return fi
}

func (s *Server) handleFilesSearch(ctx context.Context, _ *mcp.CallToolRequest, input FilesSearchInput) (*mcp.CallToolResult, FilesSearchOutput, error) {
	switch input.Type {
	case "", listing.KindFile, listing.KindFolder:
	default:
		return nil, FilesSearchOutput{}, fmt.Errorf("invalid type %q (must be 'file' or 'folder')", input.Type)
	}
	p, err := s.checkPath(input.Path)
	if err != nil {
		return nil, FilesSearchOutput{}, err
	}
	entries, res := s.files.Search(ctx, s.actor, p, listing.Filter{
		Keyword: input.Keyword,
		Kind:    input.Type,
		MinSize: input.MinSize,
		MaxSize: input.MaxSize,
	})
	if err := resultError(res); err != nil {
		return nil, FilesSearchOutput{}, err
	}
	out := FilesSearchOutput{Path: p, Entries: make([]FileInfo, 0, len(entries))}
	for _, e := range entries {
		if allowed, _ := s.policy.IsPathAllowed(e.Path); !allowed {
			continue
		}
		out.Entries = append(out.Entries, fileInfo(e))
	}
	out.Count = len(out.Entries)
	return nil, out, nil
}

func (s *Server) handleFilesLink(ctx context.Context, _ *mcp.CallToolRequest, input PathInput) (*mcp.CallToolResult, LinkOutput, error) {
	p, err := s.checkPath(input.Path)
	if err != nil {
		return nil, LinkOutput{}, err
	}
	link, res := s.files.DownloadLink(ctx, s.actor, p)
	if err := resultError(res); err != nil {
		return nil, LinkOutput{}, err
	}
	return nil, LinkOutput{Path: p, URL: link}, nil
}

func (s *Server) handleFilesShare(ctx context.Context, _ *mcp.CallToolRequest, input PathInput) (*mcp.CallToolResult, LinkOutput, error) {
	p, err := s.checkPath(input.Path)
	if err != nil {
		return nil, LinkOutput{}, err
	}
	link, res := s.files.Share(ctx, s.actor, p)
	if err := resultError(res); err != nil {
		return nil, LinkOutput{}, err
	}
	return nil, LinkOutput{Path: link.Path, URL: link.URL}, nil
}

func (s *Server) handleCredentialList(ctx context.Context, _ *mcp.CallToolRequest, _ CredentialListInput) (*mcp.CallToolResult, CredentialListOutput, error) {
	list := func() ([]vault.CredentialInfo, error) { return s.creds.List(ctx) }
	var infos []vault.CredentialInfo
	var err error
	if s.credCache != nil {
		infos, err = s.credCache.GetOrSet(credentialListKey, list)
	} else {
		infos, err = list()
	}
	if err != nil {
		return nil, CredentialListOutput{}, fmt.Errorf("failed to list credentials: %w", err)
	}
	out := CredentialListOutput{Credentials: make([]CredentialInfo, 0, len(infos))}
	for _, info := range infos {
		out.Credentials = append(out.Credentials, CredentialInfo{
			Name:      info.Name,
			UpdatedAt: info.UpdatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleCredentialGetMasked(ctx context.Context, _ *mcp.CallToolRequest, input CredentialGetMaskedInput) (*mcp.CallToolResult, CredentialGetMaskedOutput, error) {
	if input.Name == "" {
		return nil, CredentialGetMaskedOutput{}, errors.New("name is required")
	}
	value, err := s.creds.Get(ctx, input.Name)
	if err != nil {
		if errors.Is(err, vault.ErrCredentialNotFound) {
			return nil, CredentialGetMaskedOutput{}, fmt.Errorf("credential '%s' not found", input.Name)
		}
		return nil, CredentialGetMaskedOutput{}, fmt.Errorf("failed to read credential: %w", err)
	}
	return nil, CredentialGetMaskedOutput{
		Name:        input.Name,
		MaskedValue: maskValue(value),
		ValueLength: len(value),
	}, nil
}

// maskValue shows the last four characters of values of eight or more
// characters and masks shorter values entirely.
func maskValue(value string) string {
	n := len(value)
	if n == 0 {
		return ""
	}
	if n < 8 {
		return strings.Repeat("*", n)
	}
	return strings.Repeat("*", n-4) + value[n-4:]
}
