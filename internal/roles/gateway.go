package roles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GatewayClient is an HTTP Directory implementation backed by the platform
// gateway's internal role API.
type GatewayClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGatewayClient constructs a GatewayClient with sane defaults.
func NewGatewayClient(baseURL, token string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type roleEnsureRequest struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Font  string `json:"font"`
}

type rolePayload struct {
	RoleID  string `json:"role_id"`
	Label   string `json:"label"`
	Color   string `json:"color"`
	Font    string `json:"font"`
	Created bool   `json:"created"`
}

// EnsureRole creates or reuses the role with the exact label.
func (c *GatewayClient) EnsureRole(ctx context.Context, guildID, label, color, font string) (Role, bool, error) {
	var payload rolePayload
	path := fmt.Sprintf("/guilds/%s/roles/ensure", url.PathEscape(guildID))
	if err := c.do(ctx, http.MethodPost, path, roleEnsureRequest{Label: label, Color: color, Font: font}, &payload); err != nil {
		return Role{}, false, err
	}
	return Role{ID: payload.RoleID, Label: payload.Label, Color: payload.Color, Font: payload.Font}, payload.Created, nil
}

// FindRole looks a role up by exact label; a gateway 404 means absent.
func (c *GatewayClient) FindRole(ctx context.Context, guildID, label string) (Role, bool, error) {
	var payload rolePayload
	path := fmt.Sprintf("/guilds/%s/roles?label=%s", url.PathEscape(guildID), url.QueryEscape(label))
	err := c.do(ctx, http.MethodGet, path, nil, &payload)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.Status == http.StatusNotFound {
			return Role{}, false, nil
		}
		return Role{}, false, err
	}
	return Role{ID: payload.RoleID, Label: payload.Label, Color: payload.Color, Font: payload.Font}, true, nil
}

// AssignRole grants the role to the member.
func (c *GatewayClient) AssignRole(ctx context.Context, guildID, userID string, role Role) error {
	path := fmt.Sprintf("/guilds/%s/roles/%s/assign", url.PathEscape(guildID), url.PathEscape(role.ID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"user_id": userID}, nil)
}

// RevokeRole removes the role from the member.
func (c *GatewayClient) RevokeRole(ctx context.Context, guildID, userID string, role Role) error {
	path := fmt.Sprintf("/guilds/%s/roles/%s/revoke", url.PathEscape(guildID), url.PathEscape(role.ID))
	return c.do(ctx, http.MethodPost, path, map[string]string{"user_id": userID}, nil)
}

// SetNickname replaces the member's nickname.
func (c *GatewayClient) SetNickname(ctx context.Context, guildID, userID, nickname string) error {
	path := fmt.Sprintf("/guilds/%s/members/%s/nickname", url.PathEscape(guildID), url.PathEscape(userID))
	return c.do(ctx, http.MethodPut, path, map[string]string{"nickname": nickname}, nil)
}

// PinRoleAbove moves the role just above the anchor in the role hierarchy.
func (c *GatewayClient) PinRoleAbove(ctx context.Context, guildID string, role Role, anchorLabel string) error {
	path := fmt.Sprintf("/guilds/%s/roles/%s/position", url.PathEscape(guildID), url.PathEscape(role.ID))
	return c.do(ctx, http.MethodPut, path, map[string]string{"above_label": anchorLabel}, nil)
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &GatewayError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}

// GatewayError is a non-2xx gateway response.
type GatewayError struct {
	Status int
	Body   string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}
