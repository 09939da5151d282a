package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Client talks to a rendezvous server.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient returns a client for the server at base, for example
// http://localhost:8080. A nil hc means http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}
}

func (c *Client) CreateUser(ctx context.Context, localIPs []string) (CreateUserResponse, error) {
	var res CreateUserResponse
	err := c.do(ctx, http.MethodPost, "/user", CreateUserRequest{LocalIPs: localIPs}, &res)
	return res, err
}

func (c *Client) CreateSession(ctx context.Context, user uuid.UUID) (CreateSessionResponse, error) {
	var res CreateSessionResponse
	err := c.do(ctx, http.MethodPost, "/session", CreateSessionRequest{User: user}, &res)
	return res, err
}

func (c *Client) JoinSession(ctx context.Context, session, user uuid.UUID) (JoinSessionResponse, error) {
	var res JoinSessionResponse
	err := c.do(ctx, http.MethodPost, "/session/"+session.String(), JoinSessionRequest{User: user}, &res)
	return res, err
}

func (c *Client) User(ctx context.Context, user uuid.UUID) (UserInfo, error) {
	var res UserInfo
	err := c.do(ctx, http.MethodGet, "/user/"+user.String(), nil, &res)
	return res, err
}

func (c *Client) Session(ctx context.Context, session uuid.UUID) (SessionInfo, error) {
	var res SessionInfo
	err := c.do(ctx, http.MethodGet, "/session/"+session.String(), nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("rendezvous: %v %v: %w", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		var eb errorBody
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
		if json.Unmarshal(raw, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: res.StatusCode, Message: eb.Error}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
